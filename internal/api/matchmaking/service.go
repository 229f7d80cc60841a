package matchmaking

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const ServiceName = "cinematch.v1.Matchmaking"

// MatchmakingServer is the server API for the Matchmaking service.
type MatchmakingServer interface {
	UpsertUser(context.Context, *UpsertUserRequest) (*UpsertUserResponse, error)
	AddFavorite(context.Context, *AddFavoriteRequest) (*AddFavoriteResponse, error)
	RemoveFavorite(context.Context, *RemoveFavoriteRequest) (*RemoveFavoriteResponse, error)
	SearchMatches(context.Context, *SearchMatchesRequest) (*SearchMatchesResponse, error)
	ListMatches(context.Context, *ListMatchesRequest) (*ListMatchesResponse, error)
	GetQuotaStatus(context.Context, *GetQuotaStatusRequest) (*GetQuotaStatusResponse, error)
	SetPremium(context.Context, *SetPremiumRequest) (*SetPremiumResponse, error)
}

// UnimplementedMatchmakingServer can be embedded for forward compatibility.
type UnimplementedMatchmakingServer struct{}

func (UnimplementedMatchmakingServer) UpsertUser(context.Context, *UpsertUserRequest) (*UpsertUserResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method UpsertUser not implemented")
}
func (UnimplementedMatchmakingServer) AddFavorite(context.Context, *AddFavoriteRequest) (*AddFavoriteResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AddFavorite not implemented")
}
func (UnimplementedMatchmakingServer) RemoveFavorite(context.Context, *RemoveFavoriteRequest) (*RemoveFavoriteResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RemoveFavorite not implemented")
}
func (UnimplementedMatchmakingServer) SearchMatches(context.Context, *SearchMatchesRequest) (*SearchMatchesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SearchMatches not implemented")
}
func (UnimplementedMatchmakingServer) ListMatches(context.Context, *ListMatchesRequest) (*ListMatchesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListMatches not implemented")
}
func (UnimplementedMatchmakingServer) GetQuotaStatus(context.Context, *GetQuotaStatusRequest) (*GetQuotaStatusResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method GetQuotaStatus not implemented")
}
func (UnimplementedMatchmakingServer) SetPremium(context.Context, *SetPremiumRequest) (*SetPremiumResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method SetPremium not implemented")
}

// RegisterMatchmakingServer attaches srv to s.
func RegisterMatchmakingServer(s grpc.ServiceRegistrar, srv MatchmakingServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// unary builds a method handler that decodes Req and dispatches to call,
// going through the server interceptor when one is installed.
func unary[Req any, Resp any](method string, call func(MatchmakingServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(MatchmakingServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(MatchmakingServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// ServiceDesc is the grpc.ServiceDesc for the Matchmaking service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*MatchmakingServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("UpsertUser", MatchmakingServer.UpsertUser),
		unary("AddFavorite", MatchmakingServer.AddFavorite),
		unary("RemoveFavorite", MatchmakingServer.RemoveFavorite),
		unary("SearchMatches", MatchmakingServer.SearchMatches),
		unary("ListMatches", MatchmakingServer.ListMatches),
		unary("GetQuotaStatus", MatchmakingServer.GetQuotaStatus),
		unary("SetPremium", MatchmakingServer.SetPremium),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "cinematch/v1/matchmaking",
}

// MatchmakingClient is the client API for the Matchmaking service.
type MatchmakingClient struct {
	cc grpc.ClientConnInterface
}

func NewMatchmakingClient(cc grpc.ClientConnInterface) *MatchmakingClient {
	return &MatchmakingClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *MatchmakingClient) UpsertUser(ctx context.Context, in *UpsertUserRequest, opts ...grpc.CallOption) (*UpsertUserResponse, error) {
	return invoke[UpsertUserResponse](ctx, c.cc, "UpsertUser", in, opts)
}

func (c *MatchmakingClient) AddFavorite(ctx context.Context, in *AddFavoriteRequest, opts ...grpc.CallOption) (*AddFavoriteResponse, error) {
	return invoke[AddFavoriteResponse](ctx, c.cc, "AddFavorite", in, opts)
}

func (c *MatchmakingClient) RemoveFavorite(ctx context.Context, in *RemoveFavoriteRequest, opts ...grpc.CallOption) (*RemoveFavoriteResponse, error) {
	return invoke[RemoveFavoriteResponse](ctx, c.cc, "RemoveFavorite", in, opts)
}

func (c *MatchmakingClient) SearchMatches(ctx context.Context, in *SearchMatchesRequest, opts ...grpc.CallOption) (*SearchMatchesResponse, error) {
	return invoke[SearchMatchesResponse](ctx, c.cc, "SearchMatches", in, opts)
}

func (c *MatchmakingClient) ListMatches(ctx context.Context, in *ListMatchesRequest, opts ...grpc.CallOption) (*ListMatchesResponse, error) {
	return invoke[ListMatchesResponse](ctx, c.cc, "ListMatches", in, opts)
}

func (c *MatchmakingClient) GetQuotaStatus(ctx context.Context, in *GetQuotaStatusRequest, opts ...grpc.CallOption) (*GetQuotaStatusResponse, error) {
	return invoke[GetQuotaStatusResponse](ctx, c.cc, "GetQuotaStatus", in, opts)
}

func (c *MatchmakingClient) SetPremium(ctx context.Context, in *SetPremiumRequest, opts ...grpc.CallOption) (*SetPremiumResponse, error) {
	return invoke[SetPremiumResponse](ctx, c.cc, "SetPremium", in, opts)
}
