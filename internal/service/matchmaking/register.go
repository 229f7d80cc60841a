package matchmaking

import (
	"google.golang.org/grpc"

	pb "github.com/oggyb/cinematch/internal/api/matchmaking"
	"github.com/oggyb/cinematch/internal/app"
)

// Registrar ties the Matchmaking service into the gRPC server
type Registrar struct {
	service *Service
}

// NewRegistrar creates a new Registrar for the Matchmaking service
func NewRegistrar(appCtx *app.AppContext) *Registrar {
	return &Registrar{service: NewMatchmakingService(appCtx)}
}

// Service returns the implementation the registrar attaches.
func (r *Registrar) Service() *Service { return r.service }

// Register attaches the Matchmaking service implementation to the gRPC server
func (r *Registrar) Register(s grpc.ServiceRegistrar) {
	pb.RegisterMatchmakingServer(s, r.service)
}
