package remote

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"probmc/model"
	"probmc/state"
)

const defaultTimeout = 30 * time.Second

// Opens model sessions on a remote Server
type Client struct {
	conn    grpc.ClientConnInterface
	closer  func() error
	timeout time.Duration
	logger  *slog.Logger

	mu  sync.Mutex
	err error
}

// Create a client using an existing connection. The caller owns the connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn, timeout: defaultTimeout, logger: slog.New(slog.DiscardHandler)}
}

// Connect to the server at target. Uses insecure credentials unless other options are provided.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, err
	}
	c := NewClient(conn)
	c.closer = conn.Close
	return c, nil
}

// Log the sessions that a Factory fails to open
func (c *Client) WithLogger(logger *slog.Logger) *Client {
	if logger != nil {
		c.logger = logger
	}
	return c
}

// The error of the last session a Factory failed to open. nil if every session was opened.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Set the deadline of every call made by the models of the client
func (c *Client) WithTimeout(timeout time.Duration) *Client {
	c.timeout = timeout
	return c
}

func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// Open a new session and return the model hosted by it
func (c *Client) NewModel(ctx context.Context) (*Model, error) {
	out := &structpb.Struct{}
	if err := c.conn.Invoke(ctx, fullMethod("Open"), &emptypb.Empty{}, out); err != nil {
		return nil, fromStatus(err)
	}
	fields := out.GetFields()
	labelValues := fields["labels"].GetListValue().GetValues()
	labels := make([]string, len(labelValues))
	for i, v := range labelValues {
		labels[i] = v.GetStringValue()
	}
	return &Model{
		client: c,
		id:     fields["session"].GetStringValue(),
		size:   int(fields["size"].GetNumberValue()),
		labels: labels,
	}, nil
}

// A Factory opening a new session for every model.
// The returned models are nil if the session could not be opened, the cause is kept in Err.
// The sessions are closed by closing the models.
func (c *Client) Factory(ctx context.Context) model.Factory {
	return func() model.ExecutableModel {
		m, err := c.NewModel(ctx)
		if err != nil {
			c.logger.Error("Opening a model session failed", "err", err)
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return nil
		}
		return m
	}
}

// A model hosted in a session of a remote Server.
//
// Implements model.ExecutableModel and model.FaultReporter.
// Should only be used from a single goroutine.
type Model struct {
	client *Client
	id     string
	size   int
	labels []string

	pending    model.Choice
	hasPending bool
}

func (m *Model) Session() string {
	return m.id
}

func (m *Model) invoke(name string, in, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), m.client.timeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, sessionKey, m.id)
	if err := m.client.conn.Invoke(ctx, fullMethod(name), in, out); err != nil {
		return fromStatus(err)
	}
	return nil
}

// Perform a state changing call and store the returned pending choice
func (m *Model) step(name string, in any) error {
	out := &structpb.Struct{}
	if err := m.invoke(name, in, out); err != nil {
		return err
	}
	m.pending, m.hasPending = decodeChoice(out)
	return nil
}

func (m *Model) StateVectorSize() int {
	return m.size
}

func (m *Model) Labels() []string {
	return m.labels
}

func (m *Model) Serialize(dst []byte) error {
	if len(dst) != m.size {
		return fmt.Errorf("%w: got %v bytes, expected %v", model.ErrStateSize, len(dst), m.size)
	}
	out := &wrapperspb.BytesValue{}
	if err := m.invoke("Serialize", &emptypb.Empty{}, out); err != nil {
		return err
	}
	copy(dst, out.GetValue())
	return nil
}

func (m *Model) Deserialize(src []byte) error {
	return m.step("Deserialize", wrapperspb.Bytes(src))
}

func (m *Model) Reset() error {
	return m.step("Reset", &emptypb.Empty{})
}

func (m *Model) AvailableChoice() (model.Choice, bool) {
	return m.pending, m.hasPending
}

func (m *Model) ResolveChoice(option int) error {
	return m.step("Resolve", wrapperspb.Int64(int64(option)))
}

func (m *Model) EvaluateLabels() ([]bool, error) {
	out := &structpb.ListValue{}
	if err := m.invoke("EvaluateLabels", &emptypb.Empty{}, out); err != nil {
		return nil, err
	}
	values := out.GetValues()
	labels := make([]bool, len(values))
	for i, v := range values {
		labels[i] = v.GetBoolValue()
	}
	return labels, nil
}

// Returns 0 if the faults could not be retrieved
func (m *Model) ActivatedFaults() state.FaultSet {
	out := &wrapperspb.UInt64Value{}
	if err := m.invoke("ActivatedFaults", &emptypb.Empty{}, out); err != nil {
		return 0
	}
	return state.FaultSet(out.GetValue())
}

// Close the session on the server
func (m *Model) Close() error {
	return m.invoke("Close", &emptypb.Empty{}, &emptypb.Empty{})
}
