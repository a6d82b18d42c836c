package remote

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"probmc/model"
)

// Hosts models created by a factory. Every session owns its own model instance.
type Server struct {
	factory model.Factory
	logger  *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
}

type session struct {
	// Serializes calls to the model. A client session is used by a single worker.
	mu sync.Mutex
	m  model.ExecutableModel
}

func NewServer(factory model.Factory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{
		factory:  factory,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

// Register the model service on the grpc server
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
}

// The number of open sessions
func (s *Server) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) open(ctx context.Context) (*structpb.Struct, error) {
	m := s.factory()
	if m == nil {
		return nil, status.Error(codes.Internal, "remote: the factory returned no model")
	}
	id := uuid.NewString()
	s.mu.Lock()
	s.sessions[id] = &session{m: m}
	s.mu.Unlock()

	labels := make([]any, 0, len(m.Labels()))
	for _, l := range m.Labels() {
		labels = append(labels, l)
	}
	s.logger.Debug("Opened session", "session", id)
	return structpb.NewStruct(map[string]any{
		"session": id,
		"size":    m.StateVectorSize(),
		"labels":  labels,
	})
}

// Retrieve the session whose id is stored in the incoming metadata
func (s *Server) session(ctx context.Context) (string, *session, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", nil, ErrNoSession
	}
	ids := md.Get(sessionKey)
	if len(ids) != 1 {
		return "", nil, ErrNoSession
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[ids[0]]
	if !ok {
		return "", nil, fmt.Errorf("%w: %v", ErrUnknownSession, ids[0])
	}
	return ids[0], sess, nil
}

// Run f with exclusive access to the model of the session.
// Panics in the model are returned as Internal errors.
func (s *Server) with(ctx context.Context, f func(m model.ExecutableModel) error) (err error) {
	id, sess, err := s.session(ctx)
	if err != nil {
		return toStatus(err)
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Model panicked", "session", id, "panic", r, "stack", string(debug.Stack()))
			err = status.Errorf(codes.Internal, "remote: model panicked: %v", r)
		}
	}()
	return toStatus(f(sess.m))
}

// Returns the pending choice of the model after a state changing call
func (s *Server) step(ctx context.Context, f func(m model.ExecutableModel) error) (*structpb.Struct, error) {
	var out *structpb.Struct
	err := s.with(ctx, func(m model.ExecutableModel) error {
		if err := f(m); err != nil {
			return err
		}
		ch, pending := m.AvailableChoice()
		var err error
		out, err = encodeChoice(ch, pending)
		return err
	})
	return out, err
}

func (s *Server) handleOpen(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.open(ctx)
}

func (s *Server) handleClose(ctx context.Context, _ *emptypb.Empty) (*emptypb.Empty, error) {
	id, _, err := s.session(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
	s.logger.Debug("Closed session", "session", id)
	return &emptypb.Empty{}, nil
}

func (s *Server) handleReset(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	return s.step(ctx, func(m model.ExecutableModel) error {
		return m.Reset()
	})
}

func (s *Server) handleDeserialize(ctx context.Context, in *wrapperspb.BytesValue) (*structpb.Struct, error) {
	return s.step(ctx, func(m model.ExecutableModel) error {
		return m.Deserialize(in.GetValue())
	})
}

func (s *Server) handleResolve(ctx context.Context, in *wrapperspb.Int64Value) (*structpb.Struct, error) {
	return s.step(ctx, func(m model.ExecutableModel) error {
		return m.ResolveChoice(int(in.GetValue()))
	})
}

func (s *Server) handleSerialize(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.BytesValue, error) {
	var out *wrapperspb.BytesValue
	err := s.with(ctx, func(m model.ExecutableModel) error {
		buf := make([]byte, m.StateVectorSize())
		if err := m.Serialize(buf); err != nil {
			return err
		}
		out = wrapperspb.Bytes(buf)
		return nil
	})
	return out, err
}

func (s *Server) handleEvaluateLabels(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	var out *structpb.ListValue
	err := s.with(ctx, func(m model.ExecutableModel) error {
		labels, err := m.EvaluateLabels()
		if err != nil {
			return err
		}
		values := make([]any, len(labels))
		for i, l := range labels {
			values[i] = l
		}
		out, err = structpb.NewList(values)
		return err
	})
	return out, err
}

func (s *Server) handleActivatedFaults(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.UInt64Value, error) {
	var out *wrapperspb.UInt64Value
	err := s.with(ctx, func(m model.ExecutableModel) error {
		var faults uint64
		if fr, ok := m.(model.FaultReporter); ok {
			faults = uint64(fr.ActivatedFaults())
		}
		out = wrapperspb.UInt64(faults)
		return nil
	})
	return out, err
}
