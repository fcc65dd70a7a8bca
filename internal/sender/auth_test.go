package sender

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/httpsender/internal/sender/message"
)

type mockUser struct {
	mock.Mock
}

func (m *mockUser) IsAuthenticated(ex *message.Exchange) bool {
	return m.Called(ex).Bool(0)
}

func (m *mockUser) ReconcileSession(ctx context.Context, ex *message.Exchange) error {
	return m.Called(ctx, ex).Error(0)
}

func (m *mockUser) ReconcileUser(ctx context.Context, ex *message.Exchange) error {
	return m.Called(ctx, ex).Error(0)
}

func (m *mockUser) QueueForcedAuthentication(ctx context.Context, ex *message.Exchange) error {
	return m.Called(ctx, ex).Error(0)
}

func TestDispatchRetriesOnceAfterAuthentication(t *testing.T) {
	ft := newFakeTransport().on("/account",
		reply{status: 401, body: "who are you"},
		reply{status: 200, body: "welcome back"})

	user := &mockUser{}
	user.On("ReconcileUser", mock.Anything, mock.Anything).Return(nil)
	user.On("QueueForcedAuthentication", mock.Anything, mock.Anything).Return(nil).Once()
	user.On("IsAuthenticated", mock.Anything).Return(false).Once()
	user.On("IsAuthenticated", mock.Anything).Return(true)

	rc := message.NewRequestContext(message.InitiatorActiveScanner, nil)
	rc.User = user
	ex := newExchange(t, "GET", "/account", "")
	require.NoError(t, New(ft).Dispatch(context.Background(), rc, nil, ex, ""))

	assert.Equal(t, 200, ex.Response.StatusCode)
	assert.Equal(t, "welcome back", string(ex.Response.Body))
	assert.Len(t, ft.requests(), 2)
	user.AssertNumberOfCalls(t, "ReconcileUser", 2)
	user.AssertNumberOfCalls(t, "QueueForcedAuthentication", 1)
	user.AssertNumberOfCalls(t, "IsAuthenticated", 1)
}

func TestDispatchRetriesAtMostOnce(t *testing.T) {
	ft := newFakeTransport().on("/account", reply{status: 401, body: "still no"})

	user := &mockUser{}
	user.On("ReconcileUser", mock.Anything, mock.Anything).Return(nil)
	user.On("QueueForcedAuthentication", mock.Anything, mock.Anything).Return(nil)
	user.On("IsAuthenticated", mock.Anything).Return(false)

	rc := message.NewRequestContext(message.InitiatorSpider, nil)
	rc.User = user
	ex := newExchange(t, "GET", "/account", "")
	require.NoError(t, New(ft).Dispatch(context.Background(), rc, nil, ex, ""))

	assert.Equal(t, 401, ex.Response.StatusCode)
	assert.Len(t, ft.requests(), 2)
	user.AssertNumberOfCalls(t, "QueueForcedAuthentication", 1)
}

func TestDispatchAuthenticationInitiatorsNeverRetry(t *testing.T) {
	for _, initiator := range []message.Initiator{message.InitiatorAuthentication, message.InitiatorAuthenticationPoll} {
		t.Run(initiator.String(), func(t *testing.T) {
			ft := newFakeTransport().on("/login", reply{status: 401})
			user := &mockUser{}
			user.On("ReconcileSession", mock.Anything, mock.Anything).Return(nil)

			rc := message.NewRequestContext(initiator, nil)
			rc.User = user
			require.NoError(t, New(ft).Dispatch(context.Background(), rc, nil, newExchange(t, "POST", "/login", "u=a"), ""))

			assert.Len(t, ft.requests(), 1)
			user.AssertNotCalled(t, "IsAuthenticated", mock.Anything)
			user.AssertNotCalled(t, "ReconcileUser", mock.Anything, mock.Anything)
		})
	}
}

func TestDispatchImageRequestsNeverRetry(t *testing.T) {
	ft := newFakeTransport().on("/logo.gif", reply{status: 403})
	user := &mockUser{}
	user.On("ReconcileUser", mock.Anything, mock.Anything).Return(nil)

	rc := message.NewRequestContext(message.InitiatorSpider, nil)
	rc.User = user
	require.NoError(t, New(ft).Dispatch(context.Background(), rc, nil, newExchange(t, "GET", "/logo.gif", ""), ""))

	assert.Len(t, ft.requests(), 1)
	user.AssertNotCalled(t, "IsAuthenticated", mock.Anything)
}

func TestDispatchUserErrorsPropagate(t *testing.T) {
	ft := newFakeTransport().on("/", reply{status: 200})
	boom := errors.New("session store unavailable")
	user := &mockUser{}
	user.On("ReconcileUser", mock.Anything, mock.Anything).Return(boom)

	rc := message.NewRequestContext(message.InitiatorManual, nil)
	rc.User = user
	err := New(ft).Dispatch(context.Background(), rc, nil, newExchange(t, "GET", "/", ""), "")

	assert.ErrorIs(t, err, boom)
	assert.False(t, IsKind(err, KindTransport))
	assert.Empty(t, ft.requests())
}

func TestRedirectHopsKeepRequestingUser(t *testing.T) {
	ft := newFakeTransport().
		on("/a", reply{status: 302, header: loc("/b")}).
		on("/b", reply{status: 200})

	user := &mockUser{}
	user.On("ReconcileUser", mock.Anything, mock.Anything).Return(nil)
	user.On("IsAuthenticated", mock.Anything).Return(true)

	rc := message.NewRequestContext(message.InitiatorManual, nil)
	ex := newExchange(t, "GET", "/a", "")
	ex.SetRequestingUser(user)
	require.NoError(t, New(ft).Dispatch(context.Background(), rc, FollowRedirects, ex, ""))

	reqs := ft.requests()
	require.Len(t, reqs, 2)
	assert.Same(t, user, reqs[0].user)
	assert.Same(t, user, reqs[1].user)
	user.AssertNumberOfCalls(t, "ReconcileUser", 2)
}
