package detection

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	apperrors "github.com/novadristi/greeter/internal/errors"
	"github.com/novadristi/greeter/internal/trace"
)

// ProcessFrameMethod is the unary RPC served by the recognition service.
// Request and response are google.protobuf.Struct values with the same shape
// as the HTTP JSON bodies.
const ProcessFrameMethod = "/recognition.v1.RecognitionService/ProcessFrame"

// GRPCSource polls the recognition service over gRPC.
type GRPCSource struct {
	conn      *grpc.ClientConn
	streamURL string
}

// NewGRPCSource connects to the recognition service at addr.
func NewGRPCSource(addr, streamURL string) (*GRPCSource, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(trace.UnaryClientInterceptor()),
	)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeUnavailable, "dial recognition service").
			WithMetadata("addr", addr)
	}
	return &GRPCSource{conn: conn, streamURL: streamURL}, nil
}

// Close closes the gRPC connection.
func (s *GRPCSource) Close() error {
	return s.conn.Close()
}

// Detect fetches and decodes one frame's detections.
func (s *GRPCSource) Detect(ctx context.Context) ([]Detection, error) {
	fields := map[string]any{}
	if s.streamURL != "" {
		fields["camera_url"] = s.streamURL
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "encode request")
	}

	resp := &structpb.Struct{}
	if err := s.conn.Invoke(ctx, ProcessFrameMethod, req, resp); err != nil {
		appErr := apperrors.FromGRPCError(err)
		if appErr.Code == apperrors.CodeUnknown || appErr.Code == apperrors.CodeInternal {
			appErr = apperrors.Wrap(err, apperrors.CodeDetectionFailed, "recognition rpc")
		}
		return nil, appErr
	}
	return decodeStruct(resp)
}

func decodeStruct(resp *structpb.Struct) ([]Detection, error) {
	data, err := protojson.Marshal(resp)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeDetectionFailed, "marshal rpc response")
	}
	return decodeFrame(data)
}
