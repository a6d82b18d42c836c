// Package remote serves executable models over gRPC.
//
// A Server hosts one model instance per session. The Client opens sessions and
// exposes each of them as a model.ExecutableModel, so a traversal can explore a
// model running in another process.
//
// The service uses the protobuf well-known types as messages and needs no generated code.
package remote

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"probmc/model"
)

const (
	serviceName = "probmc.remote.Model"
	// The metadata key that carries the session id
	sessionKey = "probmc-session"
	// The domain of the ErrorInfo details attached to model errors
	errorDomain = "probmc.model"
)

var (
	ErrNoSession      = errors.New("remote: no session id in metadata")
	ErrUnknownSession = errors.New("remote: unknown session")
)

// Implemented by Server. Used as the handler type of the service description.
type modelService interface {
	open(ctx context.Context) (*structpb.Struct, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*modelService)(nil),
	Methods: []grpc.MethodDesc{
		method("Open", (*Server).handleOpen),
		method("Close", (*Server).handleClose),
		method("Reset", (*Server).handleReset),
		method("Deserialize", (*Server).handleDeserialize),
		method("Resolve", (*Server).handleResolve),
		method("Serialize", (*Server).handleSerialize),
		method("EvaluateLabels", (*Server).handleEvaluateLabels),
		method("ActivatedFaults", (*Server).handleActivatedFaults),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "probmc/remote",
}

func fullMethod(name string) string {
	return "/" + serviceName + "/" + name
}

// Creates the method description for a unary call taking a *Req
func method[Req any, PReq interface {
	*Req
	proto.Message
}, Resp proto.Message](name string, call func(*Server, context.Context, PReq) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := PReq(new(Req))
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(PReq))
			})
		},
	}
}

// The reasons attached to errors returned by the model
var reasons = []struct {
	reason string
	code   codes.Code
	err    error
}{
	{"NO_PENDING_CHOICE", codes.FailedPrecondition, model.ErrNoPendingChoice},
	{"CHOICE_PENDING", codes.FailedPrecondition, model.ErrChoicePending},
	{"INVALID_OPTION", codes.InvalidArgument, model.ErrInvalidOption},
	{"STATE_SIZE", codes.InvalidArgument, model.ErrStateSize},
	{"NO_CHOICES", codes.InvalidArgument, model.ErrNoChoices},
}

// Converts an error returned by a hosted model into a status error
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnknownSession) || errors.Is(err, ErrNoSession) {
		return status.Error(codes.NotFound, err.Error())
	}
	for _, r := range reasons {
		if !errors.Is(err, r.err) {
			continue
		}
		st, detailErr := status.New(r.code, err.Error()).WithDetails(&errdetails.ErrorInfo{
			Reason: r.reason,
			Domain: errorDomain,
		})
		if detailErr != nil {
			return status.Error(r.code, err.Error())
		}
		return st.Err()
	}
	return status.Error(codes.Unknown, err.Error())
}

// Converts a status error returned by the server back into a model error
func fromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	for _, detail := range st.Details() {
		info, ok := detail.(*errdetails.ErrorInfo)
		if !ok || info.Domain != errorDomain {
			continue
		}
		for _, r := range reasons {
			if r.reason == info.Reason {
				return fmt.Errorf("%w: %v", r.err, st.Message())
			}
		}
	}
	if st.Code() == codes.NotFound {
		return fmt.Errorf("%w: %v", ErrUnknownSession, st.Message())
	}
	return fmt.Errorf("remote: %v: %v", st.Code(), st.Message())
}

// Encodes the pending choice of a model
func encodeChoice(ch model.Choice, pending bool) (*structpb.Struct, error) {
	fields := map[string]any{"pending": pending}
	if pending {
		fields["options"] = ch.Options
		if ch.IsProbabilistic() {
			probabilities := make([]any, len(ch.Probabilities))
			for i, p := range ch.Probabilities {
				probabilities[i] = p
			}
			fields["probabilities"] = probabilities
		}
	}
	return structpb.NewStruct(fields)
}

func decodeChoice(s *structpb.Struct) (model.Choice, bool) {
	fields := s.GetFields()
	if !fields["pending"].GetBoolValue() {
		return model.Choice{}, false
	}
	ch := model.Choice{Options: int(fields["options"].GetNumberValue())}
	if list, ok := fields["probabilities"]; ok {
		values := list.GetListValue().GetValues()
		ch.Probabilities = make([]float64, len(values))
		for i, v := range values {
			ch.Probabilities[i] = v.GetNumberValue()
		}
	}
	return ch, true
}
