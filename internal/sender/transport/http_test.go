package transport

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/httpsender/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/httpsender/internal/sender"
	"github.com/GriffinCanCode/httpsender/internal/sender/listener"
	"github.com/GriffinCanCode/httpsender/internal/sender/message"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newServer(t *testing.T, routes func(r *gin.Engine)) *httptest.Server {
	t.Helper()
	r := gin.New()
	routes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTransport(t *testing.T, mutate ...func(*Options)) *HTTP {
	t.Helper()
	opts := DefaultOptions()
	opts.RetryWaitMin = time.Millisecond
	opts.RetryWaitMax = 5 * time.Millisecond
	for _, m := range mutate {
		m(&opts)
	}
	tr, err := New(opts, nil, nil)
	require.NoError(t, err)
	return tr
}

func newClient(t *testing.T, d *sender.Dispatcher, mutate ...func(*sender.Settings)) *sender.Client {
	t.Helper()
	s := sender.DefaultSettings()
	for _, m := range mutate {
		m(&s)
	}
	c, err := sender.NewClient(d, message.InitiatorManual, s)
	require.NoError(t, err)
	return c
}

func get(t *testing.T, rawURL string) *message.Exchange {
	t.Helper()
	ex, err := message.New(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	return ex
}

// hangUp closes the connection without answering.
func hangUp(c *gin.Context) {
	conn, _, err := c.Writer.Hijack()
	if err == nil {
		_ = conn.Close()
	}
}

func TestSendReturnsResponse(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/hello", func(c *gin.Context) {
			c.Header("X-Origin", "gin")
			c.String(http.StatusOK, "hi %s", c.Query("name"))
		})
	})
	client := newClient(t, sender.New(newTransport(t)))

	ex := get(t, srv.URL+"/hello?name=there")
	require.NoError(t, client.SendAndReceive(context.Background(), ex))

	assert.Equal(t, http.StatusOK, ex.Response.StatusCode)
	assert.Equal(t, "OK", ex.Response.Reason)
	assert.Equal(t, "HTTP/1.1", ex.Response.Proto)
	assert.Equal(t, "gin", ex.Response.Header.Get("X-Origin"))
	assert.Equal(t, "hi there", string(ex.Response.Body))
	assert.True(t, ex.FromTarget)
	assert.False(t, ex.TimeSent.IsZero())
	assert.GreaterOrEqual(t, ex.Elapsed, time.Duration(0))
}

func TestSendDoesNotFollowRedirectsItself(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/a", func(c *gin.Context) { c.Redirect(http.StatusFound, "/b") })
		r.GET("/b", func(c *gin.Context) { c.String(http.StatusOK, "b") })
	})
	client := newClient(t, sender.New(newTransport(t)))

	ex := get(t, srv.URL+"/a")
	require.NoError(t, client.SendAndReceive(context.Background(), ex))

	assert.Equal(t, http.StatusFound, ex.Response.StatusCode)
	assert.Equal(t, "/b", ex.Response.Header.Get("Location"))
}

func TestDispatcherFollowsRedirectsOverTheWire(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.POST("/form", func(c *gin.Context) { c.Redirect(http.StatusSeeOther, "/done") })
		r.GET("/done", func(c *gin.Context) {
			c.String(http.StatusOK, "%s %s", c.Request.Method, c.GetHeader("Content-Type"))
		})
	})
	d := sender.New(newTransport(t))
	rec := listener.NewRecorder(0)
	require.NoError(t, d.AddListener(rec))
	client := newClient(t, d, func(s *sender.Settings) { s.FollowRedirects = true })

	ex, err := message.New(http.MethodPost, srv.URL+"/form", []byte("a=1"))
	require.NoError(t, err)
	ex.Request.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	require.NoError(t, client.SendAndReceive(context.Background(), ex))

	assert.Equal(t, http.StatusOK, ex.Response.StatusCode)
	assert.Equal(t, "GET ", string(ex.Response.Body))
	assert.Equal(t, "/form", ex.Request.URL.Path)
	assert.Equal(t, http.MethodPost, ex.Request.Method)

	hops := rec.Hops()
	require.Len(t, hops, 2)
	assert.Equal(t, srv.URL+"/done", hops[0].URL)
	assert.Equal(t, http.MethodGet, hops[0].Method)
	assert.Equal(t, srv.URL+"/form", hops[1].URL)
}

func TestLocalCookies(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/login", func(c *gin.Context) {
			c.SetCookie("session", "abc", 3600, "/", "", false, true)
			c.Redirect(http.StatusFound, "/whoami")
		})
		r.GET("/whoami", func(c *gin.Context) {
			v, _ := c.Cookie("session")
			c.String(http.StatusOK, v)
		})
	})
	d := sender.New(newTransport(t))

	t.Run("enabled", func(t *testing.T) {
		client := newClient(t, d, func(s *sender.Settings) {
			s.UseCookies = true
			s.FollowRedirects = true
		})
		ex := get(t, srv.URL+"/login")
		require.NoError(t, client.SendAndReceive(context.Background(), ex))
		assert.Equal(t, "abc", string(ex.Response.Body))

		again := get(t, srv.URL+"/whoami")
		require.NoError(t, client.SendAndReceive(context.Background(), again))
		assert.Equal(t, "abc", string(again.Response.Body))
	})

	t.Run("disabled", func(t *testing.T) {
		client := newClient(t, d, func(s *sender.Settings) { s.FollowRedirects = true })
		ex := get(t, srv.URL+"/login")
		require.NoError(t, client.SendAndReceive(context.Background(), ex))
		assert.Empty(t, string(ex.Response.Body))
	})
}

func TestGlobalCookies(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/login", func(c *gin.Context) {
			c.SetCookie("session", "shared", 3600, "/", "", false, true)
			c.Status(http.StatusNoContent)
		})
		r.GET("/whoami", func(c *gin.Context) {
			v, _ := c.Cookie("session")
			c.String(http.StatusOK, v)
		})
	})
	global := func(s *sender.Settings) {
		s.UseCookies = true
		s.UseGlobalState = true
	}

	t.Run("shared between clients", func(t *testing.T) {
		d := sender.New(newTransport(t, func(o *Options) { o.GlobalState = true }))
		first := newClient(t, d, global)
		second := newClient(t, d, global)

		require.NoError(t, first.SendAndReceive(context.Background(), get(t, srv.URL+"/login")))
		ex := get(t, srv.URL+"/whoami")
		require.NoError(t, second.SendAndReceive(context.Background(), ex))
		assert.Equal(t, "shared", string(ex.Response.Body))
	})

	t.Run("ignored without global state", func(t *testing.T) {
		d := sender.New(newTransport(t, func(o *Options) { o.GlobalState = false }))
		client := newClient(t, d, global)

		require.NoError(t, client.SendAndReceive(context.Background(), get(t, srv.URL+"/login")))
		ex := get(t, srv.URL+"/whoami")
		require.NoError(t, client.SendAndReceive(context.Background(), ex))
		assert.Empty(t, string(ex.Response.Body))
	})
}

func TestRetriesIOErrors(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/flaky", func(c *gin.Context) {
			if hits.Add(1) <= 2 {
				hangUp(c)
				return
			}
			c.String(http.StatusOK, "finally")
		})
	})
	client := newClient(t, sender.New(newTransport(t)))

	ex := get(t, srv.URL+"/flaky")
	require.NoError(t, client.SendAndReceive(context.Background(), ex))
	assert.Equal(t, "finally", string(ex.Response.Body))
	assert.EqualValues(t, 3, hits.Load())
}

func TestRetriesAreBounded(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/down", func(c *gin.Context) {
			hits.Add(1)
			hangUp(c)
		})
	})
	client := newClient(t, sender.New(newTransport(t)), func(s *sender.Settings) { s.MaxRetriesOnIOError = 1 })

	err := client.SendAndReceive(context.Background(), get(t, srv.URL+"/down"))
	require.Error(t, err)
	assert.True(t, sender.IsKind(err, sender.KindTransport))
	assert.EqualValues(t, 2, hits.Load())
}

func TestBreakerOpensPerHost(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/down", hangUp)
	})
	tr := newTransport(t, func(o *Options) {
		o.Breaker = resilience.Settings{
			Timeout:     time.Minute,
			ReadyToTrip: func(c resilience.Counts) bool { return c.ConsecutiveFailures >= 2 },
		}
	})
	client := newClient(t, sender.New(tr), func(s *sender.Settings) { s.MaxRetriesOnIOError = 0 })

	for i := 0; i < 2; i++ {
		require.Error(t, client.SendAndReceive(context.Background(), get(t, srv.URL+"/down")))
	}
	err := client.SendAndReceive(context.Background(), get(t, srv.URL+"/down"))
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)

	host := srv.Listener.Addr().String()
	assert.Equal(t, resilience.StateOpen, tr.BreakerStates()[host])
}

// staleUser holds credentials but never writes them onto requests itself.
type staleUser struct{ value string }

func (u staleUser) IsAuthenticated(*message.Exchange) bool                             { return true }
func (u staleUser) ReconcileSession(context.Context, *message.Exchange) error          { return nil }
func (u staleUser) ReconcileUser(context.Context, *message.Exchange) error             { return nil }
func (u staleUser) QueueForcedAuthentication(context.Context, *message.Exchange) error { return nil }
func (u staleUser) Authorization(*url.URL) string                                      { return u.value }

func TestReplacesUserDefinedAuthorization(t *testing.T) {
	var hits atomic.Int32
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/private", func(c *gin.Context) {
			hits.Add(1)
			if c.GetHeader("Authorization") != "Bearer good" {
				c.Status(http.StatusUnauthorized)
				return
			}
			c.String(http.StatusOK, "secret")
		})
	})

	for _, tc := range []struct {
		name   string
		remove bool
		status int
		hits   int32
	}{
		{"replaced", true, http.StatusOK, 2},
		{"kept", false, http.StatusUnauthorized, 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			hits.Store(0)
			client := newClient(t, sender.New(newTransport(t)), func(s *sender.Settings) {
				s.RemoveUserDefinedAuthHeaders = tc.remove
			})
			client.SetUser(staleUser{value: "Bearer good"})

			ex := get(t, srv.URL+"/private")
			ex.Request.Header.Set("Authorization", "Bearer stale")
			require.NoError(t, client.SendAndReceive(context.Background(), ex))
			assert.Equal(t, tc.status, ex.Response.StatusCode)
			assert.Equal(t, tc.hits, hits.Load())
		})
	}
}

func TestEventStreamIsNotBuffered(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/events", func(c *gin.Context) {
			c.Header("Content-Type", "text/event-stream; charset=utf-8")
			c.Status(http.StatusOK)
			_, _ = c.Writer.WriteString("data: hello\n\n")
			c.Writer.Flush()
		})
	})
	client := newClient(t, sender.New(newTransport(t)))

	ex := get(t, srv.URL+"/events")
	require.NoError(t, client.SendAndReceive(context.Background(), ex))
	require.NotNil(t, ex.Response.Stream)
	defer ex.Response.Stream.Close()

	assert.Empty(t, ex.Response.Body)
	assert.Equal(t, "utf-8", ex.Response.Charset())
	data, err := io.ReadAll(ex.Response.Stream)
	require.NoError(t, err)
	assert.Equal(t, "data: hello\n\n", string(data))
}

func TestChunkedResponseGetsContentLength(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/chunks", func(c *gin.Context) {
			c.Status(http.StatusOK)
			_, _ = c.Writer.WriteString("first ")
			c.Writer.Flush()
			_, _ = c.Writer.WriteString("second")
			c.Writer.Flush()
		})
	})
	client := newClient(t, sender.New(newTransport(t)))

	ex := get(t, srv.URL+"/chunks")
	require.NoError(t, client.SendAndReceive(context.Background(), ex))
	assert.Equal(t, "first second", string(ex.Response.Body))
	assert.Equal(t, "12", ex.Response.Header.Get("Content-Length"))
}

func TestShortBodyIsKept(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/short", func(c *gin.Context) {
			c.Writer.Header().Set("Content-Length", "100")
			c.Writer.WriteHeader(http.StatusOK)
			_, _ = c.Writer.WriteString("0123456789")
		})
	})
	client := newClient(t, sender.New(newTransport(t)))

	ex := get(t, srv.URL+"/short")
	require.NoError(t, client.SendAndReceive(context.Background(), ex))
	assert.Equal(t, "0123456789", string(ex.Response.Body))
}

func TestNoContentClearsPreviousBody(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.DELETE("/item", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	})
	client := newClient(t, sender.New(newTransport(t)))

	ex, err := message.New(http.MethodDelete, srv.URL+"/item", nil)
	require.NoError(t, err)
	ex.Response = message.NewResponse(http.StatusOK)
	ex.Response.Body = []byte("stale")

	require.NoError(t, client.SendAndReceive(context.Background(), ex))
	assert.Equal(t, http.StatusNoContent, ex.Response.StatusCode)
	assert.Empty(t, ex.Response.Body)
}

func TestDownloadAfterRedirect(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/latest", func(c *gin.Context) { c.Redirect(http.StatusMovedPermanently, "/v2/archive.bin") })
		r.GET("/v2/archive.bin", func(c *gin.Context) {
			c.Data(http.StatusOK, "application/octet-stream", []byte("payload"))
		})
	})
	client := newClient(t, sender.New(newTransport(t), sender.WithChunkSize(3)))

	path := filepath.Join(t.TempDir(), "out", "archive.bin")
	ex := get(t, srv.URL+"/latest")
	require.NoError(t, client.Download(context.Background(), ex, sender.FollowRedirects, path))

	assert.Equal(t, http.StatusOK, ex.Response.StatusCode)
	assert.Equal(t, path, ex.Response.File)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestResponseTimeout(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/slow", func(c *gin.Context) {
			select {
			case <-time.After(2 * time.Second):
			case <-c.Request.Context().Done():
			}
		})
	})
	client := newClient(t, sender.New(newTransport(t)))

	cfg := sender.NoRedirects.With(sender.WithResponseTimeout(50 * time.Millisecond))
	err := client.SendAndReceiveWith(context.Background(), get(t, srv.URL+"/slow"), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.True(t, sender.IsKind(err, sender.KindTransport))
}

func TestEventStreamOutlivesTimeouts(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/ticks", func(c *gin.Context) {
			c.Header("Content-Type", "text/event-stream")
			c.Status(http.StatusOK)
			for i := 0; i < 5; i++ {
				if i > 0 {
					select {
					case <-time.After(100 * time.Millisecond):
					case <-c.Request.Context().Done():
						return
					}
				}
				_, _ = c.Writer.WriteString("data: tick\n\n")
				c.Writer.Flush()
			}
		})
	})
	tr := newTransport(t, func(o *Options) { o.Timeout = 150 * time.Millisecond })
	client := newClient(t, sender.New(tr))

	cfg := sender.NoRedirects.With(sender.WithResponseTimeout(150 * time.Millisecond))
	ex := get(t, srv.URL+"/ticks")
	require.NoError(t, client.SendAndReceiveWith(context.Background(), ex, cfg))
	require.NotNil(t, ex.Response.Stream)
	defer ex.Response.Stream.Close()

	data, err := io.ReadAll(ex.Response.Stream)
	require.NoError(t, err)
	assert.Len(t, data, 5*len("data: tick\n\n"))
}

func TestHeaderTimeout(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/stalled", func(c *gin.Context) {
			select {
			case <-time.After(2 * time.Second):
			case <-c.Request.Context().Done():
			}
		})
	})
	tr := newTransport(t, func(o *Options) { o.Timeout = 50 * time.Millisecond })
	client := newClient(t, sender.New(tr))

	ex := get(t, srv.URL+"/stalled")
	err := client.SendAndReceiveWith(context.Background(), ex, sender.NoRedirects)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestBufferedBodyIsBoundedByResponseTimeout(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/trickle", func(c *gin.Context) {
			c.Status(http.StatusOK)
			_, _ = c.Writer.WriteString("start")
			c.Writer.Flush()
			select {
			case <-time.After(2 * time.Second):
			case <-c.Request.Context().Done():
			}
		})
	})
	client := newClient(t, sender.New(newTransport(t)))

	cfg := sender.NoRedirects.With(sender.WithResponseTimeout(100 * time.Millisecond))
	err := client.SendAndReceiveWith(context.Background(), get(t, srv.URL+"/trickle"), cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestRateLimitHonoursContext(t *testing.T) {
	srv := newServer(t, func(r *gin.Engine) {
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	})
	tr := newTransport(t, func(o *Options) {
		o.RequestsPerSecond = 0.001
		o.Burst = 1
	})
	client := newClient(t, sender.New(tr))

	require.NoError(t, client.SendAndReceive(context.Background(), get(t, srv.URL+"/")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := client.SendAndReceive(ctx, get(t, srv.URL+"/"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limit")
}

func TestClassify(t *testing.T) {
	notFound := &net.DNSError{Err: "no such host", Name: "nowhere.invalid", IsNotFound: true}
	ctx := context.Background()
	assert.ErrorIs(t, classify(ctx, notFound), ErrUnknownHost)
	assert.ErrorIs(t, classify(ctx, context.DeadlineExceeded), ErrTimeout)
	assert.ErrorIs(t, classify(ctx, &net.DNSError{Err: "i/o timeout", IsTimeout: true}), ErrTimeout)

	other := io.ErrUnexpectedEOF
	assert.Equal(t, other, classify(ctx, other))

	timedOut, cancel := context.WithCancelCause(ctx)
	cancel(ErrTimeout)
	err := classify(timedOut, context.Canceled)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, context.Canceled)
}
