// Package grpcapi exposes the guidance pipeline over gRPC. Messages are
// google.protobuf.Struct so the service needs no generated stubs.
package grpcapi

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/sudarshan922/insta-first-aid/internal/app"
	"github.com/sudarshan922/insta-first-aid/internal/models"
	"github.com/sudarshan922/insta-first-aid/internal/service/language"
	"github.com/sudarshan922/insta-first-aid/internal/service/pipeline"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "firstaid.v1.GuidanceService"

// Full method names.
const (
	MethodRun  = "/" + ServiceName + "/Run"
	MethodChat = "/" + ServiceName + "/Chat"
)

// InvocationMetadataKey carries a caller-chosen invocation ID.
const InvocationMetadataKey = "x-invocation-id"

// GuidanceServer is the server API for the guidance service.
type GuidanceServer interface {
	// Run takes {text, language} and returns {invocationId, isEmergency,
	// instructions, audioDataUri, keywords, degraded, audioError}.
	Run(context.Context, *structpb.Struct) (*structpb.Struct, error)
	// Chat takes {query} and returns {response}.
	Chat(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the guidance service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GuidanceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: unaryHandler(MethodRun, GuidanceServer.Run)},
		{MethodName: "Chat", Handler: unaryHandler(MethodChat, GuidanceServer.Chat)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "firstaid/v1/guidance.proto",
}

func unaryHandler(fullMethod string, call func(GuidanceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(GuidanceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(GuidanceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// Server implements GuidanceServer on top of the application pipeline.
type Server struct {
	app *app.Application
}

// Register registers the guidance service on g.
func Register(g *grpc.Server, application *app.Application) *Server {
	s := &Server{app: application}
	g.RegisterService(&ServiceDesc, s)
	return s
}

// Run implements GuidanceServer.
func (s *Server) Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	text := fields["text"].GetStringValue()
	lang := language.Code(fields["language"].GetStringValue())
	if lang == "" {
		lang = language.English
	}

	id := invocationID(ctx)
	out, err := s.app.Pipeline.Run(pipeline.ContextWithInvocationID(ctx, id), text, lang)
	if err != nil {
		return nil, toStatus(err)
	}

	resp := map[string]any{
		"invocationId": id,
		"language":     string(lang),
		"isEmergency":  false,
	}
	if g, ok := out.(*pipeline.Guidance); ok {
		keywords := make([]any, len(g.Keywords))
		for i, k := range g.Keywords {
			keywords[i] = k
		}
		resp["isEmergency"] = true
		resp["keywords"] = keywords
		resp["instructions"] = g.Instructions
		resp["degraded"] = g.Degraded()
		if g.AudioDataURI != "" {
			resp["audioDataUri"] = g.AudioDataURI
		}
		if g.AudioErr != nil {
			resp["audioError"] = models.KindName(g.AudioErr)
		}
	}
	return structpb.NewStruct(resp)
}

// Chat implements GuidanceServer.
func (s *Server) Chat(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	query := req.GetFields()["query"].GetStringValue()

	ctx, cancel := context.WithTimeout(ctx, s.app.Cfg.Pipeline.StageTimeout)
	defer cancel()

	answer, err := s.app.Chat.Ask(ctx, query)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{"response": answer})
}

func invocationID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(InvocationMetadataKey); len(v) > 0 && v[0] != "" {
			return v[0]
		}
	}
	return uuid.NewString()
}

// CodeFor maps an error to its gRPC status code.
func CodeFor(err error) codes.Code {
	switch {
	case errors.Is(err, models.ErrInvalidQuery), errors.Is(err, models.ErrUnsupportedLanguage):
		return codes.InvalidArgument
	case errors.Is(err, models.ErrGatewayTimeout), errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	default:
		return codes.Unavailable
	}
}

func toStatus(err error) error {
	return status.Error(CodeFor(err), err.Error())
}

// Client calls the guidance service over conn.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a guidance service client.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Run asks for guidance on text in lang.
func (c *Client) Run(ctx context.Context, text string, lang language.Code, opts ...grpc.CallOption) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(map[string]any{"text": text, "language": string(lang)})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodRun, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Chat asks the first-aid assistant a question.
func (c *Client) Chat(ctx context.Context, query string, opts ...grpc.CallOption) (string, error) {
	req, err := structpb.NewStruct(map[string]any{"query": query})
	if err != nil {
		return "", err
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodChat, req, out, opts...); err != nil {
		return "", err
	}
	return out.GetFields()["response"].GetStringValue(), nil
}
