package feed

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name
const ServiceName = "portal.v1.ReleaseFeed"

const subscribeMethod = "/" + ServiceName + "/Subscribe"

// ReleaseFeedServer is the server API of the release feed
type ReleaseFeedServer interface {
	Subscribe(*structpb.Struct, ReleaseFeed_SubscribeServer) error
}

// ReleaseFeed_SubscribeServer is the server side of a Subscribe stream
type ReleaseFeed_SubscribeServer interface {
	Send(*structpb.Struct) error
	grpc.ServerStream
}

type releaseFeedSubscribeServer struct {
	grpc.ServerStream
}

func (x *releaseFeedSubscribeServer) Send(m *structpb.Struct) error {
	return x.ServerStream.SendMsg(m)
}

func subscribeHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(structpb.Struct)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ReleaseFeedServer).Subscribe(m, &releaseFeedSubscribeServer{stream})
}

// ServiceDesc describes the release feed for grpc.Server.RegisterService
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReleaseFeedServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "portal/v1/release_feed.proto",
}

// Service implements ReleaseFeedServer on top of a StreamManager
type Service struct {
	streamManager *StreamManager
	log           *slog.Logger
}

// NewService creates a new release feed service
func NewService(streamManager *StreamManager, log *slog.Logger) *Service {
	return &Service{
		streamManager: streamManager,
		log:           log,
	}
}

// Subscribe streams release events to a consumer until it disconnects
func (s *Service) Subscribe(in *structpb.Struct, stream ReleaseFeed_SubscribeServer) error {
	req := subscribeRequestFromStruct(in)
	if req.ConsumerID == "" {
		return status.Error(codes.InvalidArgument, "consumer_id is required")
	}

	s.log.Info("consumer subscribed", "consumer_id", req.ConsumerID, "applications", req.Applications)

	ch := s.streamManager.Register(req.ConsumerID)
	defer s.streamManager.Unregister(req.ConsumerID, ch)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.log.Info("consumer disconnected", "consumer_id", req.ConsumerID)
			return nil
		case event, ok := <-ch:
			if !ok {
				// replaced by a newer subscription with the same id
				return status.Error(codes.Aborted, "subscription replaced")
			}
			if len(req.Applications) > 0 && !slices.Contains(req.Applications, event.Application) {
				continue
			}

			msg, err := event.ToStruct()
			if err != nil {
				s.log.Error("failed to encode event", "error", err)
				continue
			}
			if err := stream.Send(msg); err != nil {
				s.log.Warn("send failed", "consumer_id", req.ConsumerID, "error", err)
				return err
			}
			s.log.Debug("sent event", "consumer_id", req.ConsumerID,
				"action", event.Action, "application", event.Application, "version", event.Version)
		}
	}
}

// Client subscribes to a remote release feed
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a release feed client over cc
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Subscription is an open Subscribe stream
type Subscription struct {
	stream grpc.ClientStream
}

// Subscribe opens a stream of release events
func (c *Client) Subscribe(ctx context.Context, req *SubscribeRequest) (*Subscription, error) {
	msg, err := req.ToStruct()
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], subscribeMethod)
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(msg); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &Subscription{stream: stream}, nil
}

// Recv blocks until the next event arrives
func (s *Subscription) Recv() (*Event, error) {
	m := new(structpb.Struct)
	if err := s.stream.RecvMsg(m); err != nil {
		return nil, err
	}
	return EventFromStruct(m)
}
