package usagev1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	ServiceName = "usagewatch.v1.UsageService"

	UsageService_CreateProperty_FullMethodName   = "/usagewatch.v1.UsageService/CreateProperty"
	UsageService_RecordReading_FullMethodName    = "/usagewatch.v1.UsageService/RecordReading"
	UsageService_ListReadings_FullMethodName     = "/usagewatch.v1.UsageService/ListReadings"
	UsageService_ListAnomalies_FullMethodName    = "/usagewatch.v1.UsageService/ListAnomalies"
	UsageService_AnalyzeProperty_FullMethodName  = "/usagewatch.v1.UsageService/AnalyzeProperty"
	UsageService_AnalyzePortfolio_FullMethodName = "/usagewatch.v1.UsageService/AnalyzePortfolio"
)

type UsageServiceServer interface {
	CreateProperty(context.Context, *CreatePropertyRequest) (*CreatePropertyResponse, error)
	RecordReading(context.Context, *RecordReadingRequest) (*RecordReadingResponse, error)
	ListReadings(context.Context, *ListReadingsRequest) (*ListReadingsResponse, error)
	ListAnomalies(context.Context, *ListAnomaliesRequest) (*ListAnomaliesResponse, error)
	AnalyzeProperty(context.Context, *AnalyzePropertyRequest) (*AnalyzePropertyResponse, error)
	AnalyzePortfolio(context.Context, *AnalyzePortfolioRequest) (*AnalyzePortfolioResponse, error)
}

// UnimplementedUsageServiceServer can be embedded to keep servers forward compatible.
type UnimplementedUsageServiceServer struct{}

func (UnimplementedUsageServiceServer) CreateProperty(context.Context, *CreatePropertyRequest) (*CreatePropertyResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CreateProperty not implemented")
}
func (UnimplementedUsageServiceServer) RecordReading(context.Context, *RecordReadingRequest) (*RecordReadingResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method RecordReading not implemented")
}
func (UnimplementedUsageServiceServer) ListReadings(context.Context, *ListReadingsRequest) (*ListReadingsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListReadings not implemented")
}
func (UnimplementedUsageServiceServer) ListAnomalies(context.Context, *ListAnomaliesRequest) (*ListAnomaliesResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method ListAnomalies not implemented")
}
func (UnimplementedUsageServiceServer) AnalyzeProperty(context.Context, *AnalyzePropertyRequest) (*AnalyzePropertyResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AnalyzeProperty not implemented")
}
func (UnimplementedUsageServiceServer) AnalyzePortfolio(context.Context, *AnalyzePortfolioRequest) (*AnalyzePortfolioResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method AnalyzePortfolio not implemented")
}

func RegisterUsageServiceServer(s grpc.ServiceRegistrar, srv UsageServiceServer) {
	s.RegisterService(&UsageService_ServiceDesc, srv)
}

// unary adapts a typed server method to a grpc method handler.
func unary[Req, Resp any](fullMethod string, call func(UsageServiceServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(UsageServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(UsageServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var UsageService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*UsageServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateProperty", Handler: unary(UsageService_CreateProperty_FullMethodName, UsageServiceServer.CreateProperty)},
		{MethodName: "RecordReading", Handler: unary(UsageService_RecordReading_FullMethodName, UsageServiceServer.RecordReading)},
		{MethodName: "ListReadings", Handler: unary(UsageService_ListReadings_FullMethodName, UsageServiceServer.ListReadings)},
		{MethodName: "ListAnomalies", Handler: unary(UsageService_ListAnomalies_FullMethodName, UsageServiceServer.ListAnomalies)},
		{MethodName: "AnalyzeProperty", Handler: unary(UsageService_AnalyzeProperty_FullMethodName, UsageServiceServer.AnalyzeProperty)},
		{MethodName: "AnalyzePortfolio", Handler: unary(UsageService_AnalyzePortfolio_FullMethodName, UsageServiceServer.AnalyzePortfolio)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "usagewatch/v1/usage.proto",
}

type UsageServiceClient interface {
	CreateProperty(ctx context.Context, in *CreatePropertyRequest, opts ...grpc.CallOption) (*CreatePropertyResponse, error)
	RecordReading(ctx context.Context, in *RecordReadingRequest, opts ...grpc.CallOption) (*RecordReadingResponse, error)
	ListReadings(ctx context.Context, in *ListReadingsRequest, opts ...grpc.CallOption) (*ListReadingsResponse, error)
	ListAnomalies(ctx context.Context, in *ListAnomaliesRequest, opts ...grpc.CallOption) (*ListAnomaliesResponse, error)
	AnalyzeProperty(ctx context.Context, in *AnalyzePropertyRequest, opts ...grpc.CallOption) (*AnalyzePropertyResponse, error)
	AnalyzePortfolio(ctx context.Context, in *AnalyzePortfolioRequest, opts ...grpc.CallOption) (*AnalyzePortfolioResponse, error)
}

type usageServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewUsageServiceClient(cc grpc.ClientConnInterface) UsageServiceClient {
	return &usageServiceClient{cc: cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *usageServiceClient) CreateProperty(ctx context.Context, in *CreatePropertyRequest, opts ...grpc.CallOption) (*CreatePropertyResponse, error) {
	return invoke[CreatePropertyResponse](ctx, c.cc, UsageService_CreateProperty_FullMethodName, in, opts)
}

func (c *usageServiceClient) RecordReading(ctx context.Context, in *RecordReadingRequest, opts ...grpc.CallOption) (*RecordReadingResponse, error) {
	return invoke[RecordReadingResponse](ctx, c.cc, UsageService_RecordReading_FullMethodName, in, opts)
}

func (c *usageServiceClient) ListReadings(ctx context.Context, in *ListReadingsRequest, opts ...grpc.CallOption) (*ListReadingsResponse, error) {
	return invoke[ListReadingsResponse](ctx, c.cc, UsageService_ListReadings_FullMethodName, in, opts)
}

func (c *usageServiceClient) ListAnomalies(ctx context.Context, in *ListAnomaliesRequest, opts ...grpc.CallOption) (*ListAnomaliesResponse, error) {
	return invoke[ListAnomaliesResponse](ctx, c.cc, UsageService_ListAnomalies_FullMethodName, in, opts)
}

func (c *usageServiceClient) AnalyzeProperty(ctx context.Context, in *AnalyzePropertyRequest, opts ...grpc.CallOption) (*AnalyzePropertyResponse, error) {
	return invoke[AnalyzePropertyResponse](ctx, c.cc, UsageService_AnalyzeProperty_FullMethodName, in, opts)
}

func (c *usageServiceClient) AnalyzePortfolio(ctx context.Context, in *AnalyzePortfolioRequest, opts ...grpc.CallOption) (*AnalyzePortfolioResponse, error) {
	return invoke[AnalyzePortfolioResponse](ctx, c.cc, UsageService_AnalyzePortfolio_FullMethodName, in, opts)
}
