package remote

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"probmc/builder"
	"probmc/model"
	"probmc/state"
	"probmc/storage"
	"probmc/traverser"
)

const bufSize = 1024 * 1024

// A coin that is flipped until it shows heads. Flipping may activate fault 0.
func coin() model.Program {
	return model.Program{
		StateVectorSize: 1,
		Labels:          []model.Label{{Name: "heads", Holds: func(s []byte) bool { return s[0] == 1 }}},
		Initial:         func(c *model.Chooser, s []byte) error { return nil },
		Step: func(c *model.Chooser, s []byte) error {
			if s[0] == 1 {
				return nil
			}
			if c.Choose(2) == 1 {
				c.Activate(0)
			}
			s[0] = byte(c.ChooseWithProbability(0.5, 0.5))
			return nil
		},
	}
}

func startServer(t *testing.T, factory model.Factory) (*Server, *Client) {
	t.Helper()
	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer()
	srv := NewServer(factory, nil)
	srv.Register(gs)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, s string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return srv, NewClient(conn)
}

func TestRemoteModelStep(t *testing.T) {
	srv, client := startServer(t, coin().Factory())
	m, err := client.NewModel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, srv.Sessions())
	assert.Equal(t, 1, m.StateVectorSize())
	assert.Equal(t, []string{"heads"}, m.Labels())

	require.NoError(t, m.Deserialize([]byte{0}))
	ch, ok := m.AvailableChoice()
	require.True(t, ok)
	assert.Equal(t, model.Nondeterministic(2), ch)

	require.NoError(t, m.ResolveChoice(1))
	ch, ok = m.AvailableChoice()
	require.True(t, ok)
	assert.Equal(t, model.Probabilistic(0.5, 0.5), ch)

	require.NoError(t, m.ResolveChoice(1))
	_, ok = m.AvailableChoice()
	assert.False(t, ok)

	buf := make([]byte, 1)
	require.NoError(t, m.Serialize(buf))
	assert.Equal(t, []byte{1}, buf)
	labels, err := m.EvaluateLabels()
	require.NoError(t, err)
	assert.Equal(t, []bool{true}, labels)
	assert.Equal(t, state.FaultSet(0).With(0), m.ActivatedFaults())

	require.NoError(t, m.Close())
	assert.Equal(t, 0, srv.Sessions())
}

func TestRemoteModelErrors(t *testing.T) {
	_, client := startServer(t, coin().Factory())
	m, err := client.NewModel(context.Background())
	require.NoError(t, err)

	require.NoError(t, m.Deserialize([]byte{0}))
	err = m.Serialize(make([]byte, 1))
	assert.ErrorIs(t, err, model.ErrChoicePending)

	err = m.ResolveChoice(5)
	assert.ErrorIs(t, err, model.ErrInvalidOption)

	err = m.Deserialize([]byte{0, 0})
	assert.ErrorIs(t, err, model.ErrStateSize)

	require.NoError(t, m.Deserialize([]byte{1}))
	err = m.ResolveChoice(0)
	assert.ErrorIs(t, err, model.ErrNoPendingChoice)

	require.NoError(t, m.Close())
	err = m.Reset()
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestRemoteCallWithoutSession(t *testing.T) {
	_, client := startServer(t, coin().Factory())
	err := client.conn.Invoke(context.Background(), fullMethod("Reset"), &emptypb.Empty{}, &structpb.Struct{})
	assert.ErrorIs(t, fromStatus(err), ErrUnknownSession)

	ctx := metadata.AppendToOutgoingContext(context.Background(), sessionKey, "missing")
	err = client.conn.Invoke(ctx, fullMethod("Reset"), &emptypb.Empty{}, &structpb.Struct{})
	assert.ErrorIs(t, fromStatus(err), ErrUnknownSession)
}

func TestRemoteModelPanicIsReturned(t *testing.T) {
	p := coin()
	p.Step = func(c *model.Chooser, s []byte) error {
		panic("broken model")
	}
	_, client := startServer(t, p.Factory())
	m, err := client.NewModel(context.Background())
	require.NoError(t, err)
	err = m.Deserialize([]byte{0})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken model")
	assert.False(t, errors.Is(err, model.ErrInvalidOption))
}

func TestTraverseRemoteModel(t *testing.T) {
	local := builder.NewMDPBuilder([]string{"heads"}, 1e-9, nil)
	a, err := builder.NewActions(local)
	require.NoError(t, err)
	p := coin()
	tr, err := traverser.New(traverser.Config{
		Factory:     p.Factory(),
		Storage:     storage.NewExact(16, 1),
		Actions:     a,
		WorkerCount: 1,
	})
	require.NoError(t, err)
	expected, err := tr.Traverse(context.Background())
	require.NoError(t, err)

	_, client := startServer(t, p.Factory())
	remote := builder.NewMDPBuilder([]string{"heads"}, 1e-9, nil)
	a, err = builder.NewActions(remote)
	require.NoError(t, err)
	tr, err = traverser.New(traverser.Config{
		Factory:     client.Factory(context.Background()),
		Storage:     storage.NewExact(16, 1),
		Actions:     a,
		WorkerCount: 2,
	})
	require.NoError(t, err)
	result, err := tr.Traverse(context.Background())
	require.NoError(t, err)

	assert.Equal(t, expected.States, result.States)
	assert.Equal(t, expected.Transitions, result.Transitions)
	expectedMDP, remoteMDP := local.MDP(), remote.MDP()
	require.NotNil(t, remoteMDP)
	assert.Equal(t, expectedMDP.InitialChoices(), remoteMDP.InitialChoices())
	for i := 0; i < expectedMDP.StateCount(); i++ {
		assert.Equal(t, expectedMDP.ChoicesOf(i), remoteMDP.ChoicesOf(i))
		assert.Equal(t, expectedMDP.LabelsOf(i), remoteMDP.LabelsOf(i))
	}
}

func TestTraverseClosesSessions(t *testing.T) {
	srv, client := startServer(t, coin().Factory())
	mb := builder.NewMDPBuilder([]string{"heads"}, 1e-9, nil)
	a, err := builder.NewActions(mb)
	require.NoError(t, err)
	tr, err := traverser.New(traverser.Config{
		Factory:     client.Factory(context.Background()),
		Storage:     storage.NewExact(16, 1),
		Actions:     a,
		WorkerCount: 4,
	})
	require.NoError(t, err)
	if n := srv.Sessions(); n != 0 {
		t.Errorf("Open sessions after creating the traverser. Got %v. Expected %v", n, 0)
	}

	_, err = tr.Traverse(context.Background())
	require.NoError(t, err)
	if n := srv.Sessions(); n != 0 {
		t.Errorf("Open sessions after the traversal. Got %v. Expected %v", n, 0)
	}
	assert.NoError(t, client.Err())
}

func TestFactoryKeepsSessionError(t *testing.T) {
	_, client := startServer(t, func() model.ExecutableModel { return nil })
	_, err := traverser.New(traverser.Config{
		Factory:     client.Factory(context.Background()),
		Storage:     storage.NewExact(16, 1),
		WorkerCount: 1,
	})
	require.Error(t, err)
	require.Error(t, client.Err())
	assert.Contains(t, client.Err().Error(), "the factory returned no model")
}
