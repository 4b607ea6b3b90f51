package content

import (
	"context"
	"encoding/json"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func newTestOpenAI(t *testing.T, h fasthttp.RequestHandler, opts ...Option) *OpenAI {
	t.Helper()
	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: h}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() {
		_ = srv.Shutdown()
		_ = ln.Close()
	})
	hc := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	base := []Option{WithBaseURL("http://openai.test"), WithHTTPClient(hc), WithTimeout(2 * time.Second)}
	return NewOpenAI("sk-test", append(base, opts...)...)
}

func TestGenerateTopicRequestShape(t *testing.T) {
	var got chatRequest
	var auth, path string
	c := newTestOpenAI(t, func(ctx *fasthttp.RequestCtx) {
		auth = string(ctx.Request.Header.Peek("Authorization"))
		path = string(ctx.Path())
		_ = json.Unmarshal(ctx.PostBody(), &got)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"choices":[{"message":{"role":"assistant","content":"  \"Clockwork forest\" "}}]}`)
	})

	topic, err := c.GenerateTopic(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Clockwork forest", topic)
	require.Equal(t, "Bearer sk-test", auth)
	require.Equal(t, "/v1/chat/completions", path)
	require.Equal(t, DefaultTopicModel, got.Model)
	require.Equal(t, 50, got.MaxTokens)
	require.Equal(t, 1.0, got.Temperature)
	require.Len(t, got.Messages, 2)
	require.Equal(t, "system", got.Messages[0].Role)
	require.Equal(t, topicSystemPrompt, got.Messages[0].Content)
	require.Equal(t, topicUserPrompt, got.Messages[1].Content)
}

func TestGenerateTopicFallsBackOnEmptyAnswer(t *testing.T) {
	c := newTestOpenAI(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"choices":[{"message":{"content":"   "}}]}`)
	})
	topic, err := c.GenerateTopic(context.Background())
	require.NoError(t, err)
	require.Equal(t, FallbackTopic, topic)
}

func TestGenerateImage(t *testing.T) {
	var got imageRequest
	c := newTestOpenAI(t, func(ctx *fasthttp.RequestCtx) {
		_ = json.Unmarshal(ctx.PostBody(), &got)
		ctx.SetBodyString(`{"data":[{"url":"https://img.test/a.png"}]}`)
	}, WithModels("", "", "512x512"))

	url, err := c.GenerateImage(context.Background(), "a cat astronaut")
	require.NoError(t, err)
	require.Equal(t, "https://img.test/a.png", url)
	require.Equal(t, DefaultImageModel, got.Model)
	require.Equal(t, "a cat astronaut", got.Prompt)
	require.Equal(t, 1, got.N)
	require.Equal(t, "512x512", got.Size)
}

func TestGenerateImageWithoutURL(t *testing.T) {
	c := newTestOpenAI(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetBodyString(`{"data":[]}`)
	})
	_, err := c.GenerateImage(context.Background(), "x")
	require.Error(t, err)
	require.True(t, IsGenerationError(err))
	require.Contains(t, err.Error(), "no image URL")
}

func TestAPIErrorMessageSurfaces(t *testing.T) {
	c := newTestOpenAI(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusBadRequest)
		ctx.SetBodyString(`{"error":{"message":"content policy violation","type":"invalid_request_error"}}`)
	})
	_, err := c.GenerateImage(context.Background(), "x")
	var ge *GenerationError
	require.ErrorAs(t, err, &ge)
	require.Equal(t, fasthttp.StatusBadRequest, ge.Status)
	require.Equal(t, "content policy violation", ge.Msg)
}

func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestOpenAI(t, func(ctx *fasthttp.RequestCtx) {
		if calls.Add(1) == 1 {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			return
		}
		ctx.SetBodyString(`{"choices":[{"message":{"content":"Second try"}}]}`)
	}, WithRetry(2))

	topic, err := c.GenerateTopic(context.Background())
	require.NoError(t, err)
	require.Equal(t, "Second try", topic)
	require.EqualValues(t, 2, calls.Load())
}

func TestNoRetryOnClientErrors(t *testing.T) {
	var calls atomic.Int32
	c := newTestOpenAI(t, func(ctx *fasthttp.RequestCtx) {
		calls.Add(1)
		ctx.SetStatusCode(fasthttp.StatusUnauthorized)
	}, WithRetry(3))

	_, err := c.GenerateTopic(context.Background())
	require.Error(t, err)
	require.EqualValues(t, 1, calls.Load())
}

func TestCanceledContext(t *testing.T) {
	c := newTestOpenAI(t, func(ctx *fasthttp.RequestCtx) {})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GenerateTopic(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestStringHidesKey(t *testing.T) {
	c := NewOpenAI("sk-secret")
	require.NotContains(t, c.String(), "sk-secret")
}
