package gateway

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nulpointcorp/llm-dashboard/internal/cache"
	"github.com/nulpointcorp/llm-dashboard/internal/llm"
	"github.com/nulpointcorp/llm-dashboard/internal/metrics"
	"github.com/nulpointcorp/llm-dashboard/internal/providers"
)

// fakeTransport counts Generate calls. When gate is non-nil every call
// blocks until gate is closed or the call context ends.
type fakeTransport struct {
	name       string
	configured bool
	gate       chan struct{}
	calls      atomic.Int32

	mu      sync.Mutex
	reply   func(req *providers.GenerateRequest) (*providers.GenerateResponse, error)
	lastReq *providers.GenerateRequest

	healthErr error
	healthDly time.Duration
	models    []string
}

func newFake(name string) *fakeTransport {
	return &fakeTransport{name: name, configured: true}
}

func (f *fakeTransport) Name() string     { return f.name }
func (f *fakeTransport) Configured() bool { return f.configured }

func (f *fakeTransport) CheckHealth(ctx context.Context) error {
	if f.healthDly > 0 {
		select {
		case <-time.After(f.healthDly):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return f.healthErr
}

func (f *fakeTransport) ListModels(context.Context) ([]string, error) {
	return f.models, nil
}

func (f *fakeTransport) Generate(ctx context.Context, req *providers.GenerateRequest) (*providers.GenerateResponse, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastReq = req
	reply := f.reply
	f.mu.Unlock()

	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if reply != nil {
		return reply(req)
	}
	last := req.Messages[len(req.Messages)-1].Content
	return &providers.GenerateResponse{
		Model:   req.Model,
		Content: "echo: " + last,
		Usage:   providers.Usage{InputTokens: 3, OutputTokens: 2},
	}, nil
}

type statusErr int

func (e statusErr) Error() string   { return "upstream status" }
func (e statusErr) HTTPStatus() int { return int(e) }

func newGateway(t *testing.T, c cache.ResultCache, opts Options, ts ...providers.Transport) *Gateway {
	t.Helper()
	return New(context.Background(), providers.NewRegistry(ts...), c, opts)
}

func request(provider, text string) llm.GenerationRequest {
	return llm.GenerationRequest{Text: text, Provider: provider, Model: "m1"}
}

func withParams(req llm.GenerationRequest, p llm.Params) llm.GenerationRequest {
	req.Params = p
	return req
}

func wantKind(t *testing.T, err error, want Kind) {
	t.Helper()
	got, ok := KindOf(err)
	if !ok {
		t.Fatalf("expected *GatewayError, got %T: %v", err, err)
	}
	if got != want {
		t.Fatalf("expected kind %s, got %s (%v)", want, got, err)
	}
}

func TestNew_NilContextPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic")
		}
	}()
	//nolint:staticcheck // deliberately passing nil
	New(nil, nil, nil, Options{})
}

func TestGenerate_SingleFlight(t *testing.T) {
	ft := newFake(llm.ProviderOllama)
	ft.gate = make(chan struct{})
	met := metrics.New()
	gw := newGateway(t, cache.NewMemoryCache(cache.Options{}), Options{Metrics: met}, ft)

	const n = 20
	var (
		wg      sync.WaitGroup
		results = make([]Outcome, n)
		errs    = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = gw.GenerateDetailed(context.Background(), request("ollama", "Bonjour"), time.Second)
		}()
	}

	waitFor(t, func() bool { return gw.flights.len() == 1 && ft.calls.Load() == 1 })
	// Give the remaining goroutines time to join the flight.
	time.Sleep(50 * time.Millisecond)
	close(ft.gate)
	wg.Wait()

	if got := ft.calls.Load(); got != 1 {
		t.Fatalf("expected exactly 1 transport call, got %d", got)
	}

	shared := 0
	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].Result != results[0].Result {
			t.Fatalf("caller %d got %+v, want %+v", i, results[i].Result, results[0].Result)
		}
		if results[i].Source == SourceShared {
			shared++
		}
	}
	if shared == 0 {
		t.Error("expected at least one shared result")
	}
	if gw.flights.len() != 0 {
		t.Error("in-flight table must be empty after completion")
	}
}

func TestGenerate_FailureSharedByAllWaiters(t *testing.T) {
	ft := newFake(llm.ProviderOpenAI)
	ft.gate = make(chan struct{})
	ft.reply = func(*providers.GenerateRequest) (*providers.GenerateResponse, error) {
		return nil, statusErr(500)
	}
	gw := newGateway(t, cache.NewMemoryCache(cache.Options{}), Options{}, ft)

	const n = 5
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = gw.Generate(context.Background(), request("openai", "hello"), time.Second)
		}()
	}
	waitFor(t, func() bool { return ft.calls.Load() == 1 })
	time.Sleep(50 * time.Millisecond)
	close(ft.gate)
	wg.Wait()

	for i, err := range errs {
		if err == nil {
			t.Fatalf("caller %d: expected error", i)
		}
		wantKind(t, err, TransportError)
	}
	if ft.calls.Load() != 1 {
		t.Fatalf("expected 1 call, got %d", ft.calls.Load())
	}
}

func TestGenerate_CacheHit(t *testing.T) {
	ft := newFake(llm.ProviderOllama)
	gw := newGateway(t, cache.NewMemoryCache(cache.Options{}), Options{}, ft)
	ctx := context.Background()

	first, err := gw.GenerateDetailed(ctx, request("ollama", "Bonjour"), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	second, err := gw.GenerateDetailed(ctx, request("ollama", "  Bonjour \n"), time.Second)
	if err != nil {
		t.Fatal(err)
	}

	if first.Source != SourceMiss || second.Source != SourceHit {
		t.Errorf("unexpected sources %s, %s", first.Source, second.Source)
	}
	if first.Result != second.Result {
		t.Errorf("cached result differs: %+v vs %+v", first.Result, second.Result)
	}
	if ft.calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", ft.calls.Load())
	}
	if first.Result.TokenCount != 2 {
		t.Errorf("token count should be the output tokens, got %d", first.Result.TokenCount)
	}
}

func TestGenerate_TTLExpiry(t *testing.T) {
	clk := newFakeClock()
	ft := newFake(llm.ProviderOllama)
	c := cache.NewMemoryCache(cache.Options{TTL: time.Minute, Now: clk.Now})
	gw := newGateway(t, c, Options{}, ft)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := gw.Generate(ctx, request("ollama", "Bonjour"), time.Second); err != nil {
			t.Fatal(err)
		}
	}
	if ft.calls.Load() != 1 {
		t.Fatalf("expected 1 call before expiry, got %d", ft.calls.Load())
	}

	clk.Advance(time.Minute + time.Second)
	for i := 0; i < 3; i++ {
		if _, err := gw.Generate(ctx, request("ollama", "Bonjour"), time.Second); err != nil {
			t.Fatal(err)
		}
	}
	if ft.calls.Load() != 2 {
		t.Fatalf("expected exactly one new call after expiry, got %d total", ft.calls.Load())
	}
}

func TestGenerate_KeyDiscrimination(t *testing.T) {
	ollama := newFake(llm.ProviderOllama)
	openai := newFake(llm.ProviderOpenAI)
	gw := newGateway(t, cache.NewMemoryCache(cache.Options{}), Options{}, ollama, openai)
	ctx := context.Background()

	reqs := []llm.GenerationRequest{
		request("ollama", "Bonjour"),
		request("openai", "Bonjour"),
		{Text: "Bonjour", Provider: "ollama", Model: "m2"},
		request("ollama", "bonjour"),
	}
	for _, r := range reqs {
		if _, err := gw.Generate(ctx, r, time.Second); err != nil {
			t.Fatal(err)
		}
	}

	if ollama.calls.Load() != 3 || openai.calls.Load() != 1 {
		t.Errorf("expected 3 ollama + 1 openai calls, got %d + %d", ollama.calls.Load(), openai.calls.Load())
	}
}

func TestGenerate_FailureIsolationAndNotCached(t *testing.T) {
	ft := newFake(llm.ProviderMistral)
	ft.reply = func(req *providers.GenerateRequest) (*providers.GenerateResponse, error) {
		if req.Messages[len(req.Messages)-1].Content == "bad" {
			return nil, statusErr(400)
		}
		return &providers.GenerateResponse{Content: "fine"}, nil
	}
	gw := newGateway(t, cache.NewMemoryCache(cache.Options{}), Options{}, ft)
	ctx := context.Background()

	_, err := gw.Generate(ctx, request("mistral", "bad"), time.Second)
	wantKind(t, err, ProviderRejected)

	res, err := gw.Generate(ctx, request("mistral", "good"), time.Second)
	if err != nil || res.Text != "fine" {
		t.Fatalf("unrelated key must succeed, got %+v %v", res, err)
	}

	_, err = gw.Generate(ctx, request("mistral", "bad"), time.Second)
	wantKind(t, err, ProviderRejected)
	if ft.calls.Load() != 3 {
		t.Errorf("failures must not be cached: expected 3 calls, got %d", ft.calls.Load())
	}
}

func TestGenerate_TimeoutReachesAllWaitersThenRetry(t *testing.T) {
	ft := newFake(llm.ProviderAnthropic)
	ft.gate = make(chan struct{})
	gw := newGateway(t, cache.NewMemoryCache(cache.Options{}), Options{}, ft)

	const n = 4
	var wg sync.WaitGroup
	errs := make([]error, n)
	start := time.Now()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = gw.Generate(context.Background(), request("anthropic", "slow"), 100*time.Millisecond)
		}()
	}
	wg.Wait()

	if time.Since(start) > 2*time.Second {
		t.Fatal("timeout was not enforced")
	}
	for _, err := range errs {
		wantKind(t, err, Timeout)
	}

	close(ft.gate)
	res, err := gw.Generate(context.Background(), request("anthropic", "slow"), time.Second)
	if err != nil {
		t.Fatalf("retry after timeout should succeed, got %v", err)
	}
	if res.Text != "echo: slow" {
		t.Errorf("unexpected text %q", res.Text)
	}
	if ft.calls.Load() != 2 {
		t.Errorf("expected 2 calls, got %d", ft.calls.Load())
	}
}

func TestGenerate_WaiterCancelDoesNotAffectOthers(t *testing.T) {
	ft := newFake(llm.ProviderOllama)
	ft.gate = make(chan struct{})
	gw := newGateway(t, cache.NewMemoryCache(cache.Options{}), Options{}, ft)

	leaderCtx, cancelLeader := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := gw.Generate(leaderCtx, request("ollama", "Bonjour"), time.Second)
		leaderErr <- err
	}()
	waitFor(t, func() bool { return ft.calls.Load() == 1 })

	followerRes := make(chan error, 1)
	go func() {
		_, err := gw.Generate(context.Background(), request("ollama", "Bonjour"), time.Second)
		followerRes <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelLeader()
	wantKind(t, <-leaderErr, Canceled)

	close(ft.gate)
	if err := <-followerRes; err != nil {
		t.Fatalf("follower must still succeed, got %v", err)
	}
	if ft.calls.Load() != 1 {
		t.Errorf("expected 1 call, got %d", ft.calls.Load())
	}
}

func TestGenerate_Validation(t *testing.T) {
	unconfigured := newFake(llm.ProviderOpenAI)
	unconfigured.configured = false
	gw := newGateway(t, nil, Options{}, unconfigured)
	ctx := context.Background()

	cases := []struct {
		name string
		req  llm.GenerationRequest
		want Kind
	}{
		{"empty text", request("openai", "   "), InvalidRequest},
		{"unknown provider", request("cohere", "hi"), InvalidRequest},
		{"missing model", llm.GenerationRequest{Text: "hi", Provider: "openai"}, InvalidRequest},
		{"unconfigured", request("openai", "hi"), ProviderUnconfigured},
		{"known but unregistered", request("google", "hi"), ProviderUnconfigured},
		{"NaN temperature", withParams(request("openai", "hi"), llm.Params{Temperature: math.NaN()}), InvalidRequest},
		{"infinite temperature", withParams(request("openai", "hi"), llm.Params{Temperature: math.Inf(1)}), InvalidRequest},
		{"negative temperature", withParams(request("openai", "hi"), llm.Params{Temperature: -0.5}), InvalidRequest},
		{"negative max tokens", withParams(request("openai", "hi"), llm.Params{MaxTokens: -1}), InvalidRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := gw.Generate(ctx, tc.req, time.Second)
			wantKind(t, err, tc.want)
		})
	}
	if unconfigured.calls.Load() != 0 {
		t.Error("validation failures must not reach the transport")
	}
}

func TestGenerate_BonjourScenario(t *testing.T) {
	ft := newFake(llm.ProviderOllama)
	ft.gate = make(chan struct{})
	ft.reply = func(*providers.GenerateRequest) (*providers.GenerateResponse, error) {
		return &providers.GenerateResponse{Model: "llama3.2", Content: "Hello", Usage: providers.Usage{OutputTokens: 1}}, nil
	}
	gw := newGateway(t, cache.NewMemoryCache(cache.Options{}), Options{}, ft)

	req := llm.GenerationRequest{Text: "Bonjour", Provider: "ollama", Model: "llama3.2"}
	var wg sync.WaitGroup
	results := make([]llm.GenerationResult, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			results[i], err = gw.Generate(context.Background(), req, time.Second)
			if err != nil {
				t.Error(err)
			}
		}()
	}
	waitFor(t, func() bool { return ft.calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(ft.gate)
	wg.Wait()

	third, err := gw.GenerateDetailed(context.Background(), req, time.Second)
	if err != nil {
		t.Fatal(err)
	}

	want := llm.GenerationResult{Text: "Hello", TokenCount: 1, Model: "llama3.2"}
	if results[0] != want || results[1] != want || third.Result != want {
		t.Errorf("unexpected results %+v %+v %+v", results[0], results[1], third.Result)
	}
	if third.Source != SourceHit {
		t.Errorf("third call should be a cache hit, got %s", third.Source)
	}
	if ft.calls.Load() != 1 {
		t.Errorf("expected 1 transport call, got %d", ft.calls.Load())
	}
}

func TestGenerate_ExcludedModelBypassesCache(t *testing.T) {
	openaiT := newFake(llm.ProviderOpenAI)
	lmstudioT := newFake(llm.ProviderLMStudio)
	excl, err := cache.NewExclusionList([]string{"openai/m1"}, nil)
	if err != nil {
		t.Fatal(err)
	}
	gw := newGateway(t, cache.NewMemoryCache(cache.Options{}), Options{Exclusions: excl}, openaiT, lmstudioT)

	for i := 0; i < 2; i++ {
		if _, err := gw.Generate(context.Background(), request("openai", "hi"), time.Second); err != nil {
			t.Fatal(err)
		}
		if _, err := gw.Generate(context.Background(), request("lmstudio", "hi"), time.Second); err != nil {
			t.Fatal(err)
		}
	}
	if openaiT.calls.Load() != 2 {
		t.Errorf("excluded openai/m1 must not be cached, got %d calls", openaiT.calls.Load())
	}
	if lmstudioT.calls.Load() != 1 {
		t.Errorf("lmstudio/m1 is not excluded and should be cached, got %d calls", lmstudioT.calls.Load())
	}
}

func TestGenerate_NonFiniteTemperatureNeverSharesResults(t *testing.T) {
	ollamaT := newFake(llm.ProviderOllama)
	openaiT := newFake(llm.ProviderOpenAI)
	gw := newGateway(t, cache.NewMemoryCache(cache.Options{}), Options{}, ollamaT, openaiT)
	ctx := context.Background()

	a := llm.GenerationRequest{Text: "Bonjour", Provider: "ollama", Model: "llama3.2", Params: llm.Params{Temperature: math.NaN()}}
	b := llm.GenerationRequest{Text: "Goodbye", Provider: "openai", Model: "gpt-4o", Params: llm.Params{Temperature: math.NaN()}}

	_, err := gw.Generate(ctx, a, time.Second)
	wantKind(t, err, InvalidRequest)
	_, err = gw.Generate(ctx, b, time.Second)
	wantKind(t, err, InvalidRequest)

	b.Params.Temperature = 0
	res, err := gw.Generate(ctx, b, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "echo: Goodbye" || res.Model != "gpt-4o" {
		t.Errorf("unexpected result %+v", res)
	}
	if ollamaT.calls.Load() != 0 || openaiT.calls.Load() != 1 {
		t.Errorf("unexpected calls: ollama=%d openai=%d", ollamaT.calls.Load(), openaiT.calls.Load())
	}
}

func TestGenerate_TransportPanicBecomesTransportError(t *testing.T) {
	ft := newFake(llm.ProviderMistral)
	ft.gate = make(chan struct{})
	ft.reply = func(*providers.GenerateRequest) (*providers.GenerateResponse, error) {
		panic("decode: unexpected field")
	}
	gw := newGateway(t, cache.NewMemoryCache(cache.Options{}), Options{}, ft)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make([]error, 3)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = gw.Generate(ctx, request("mistral", "hi"), time.Second)
		}(i)
	}
	waitFor(t, func() bool { return gw.flights.len() == 1 && ft.calls.Load() == 1 })
	time.Sleep(20 * time.Millisecond)
	close(ft.gate)
	wg.Wait()

	for _, err := range errs {
		wantKind(t, err, TransportError)
	}
	if gw.flights.len() != 0 {
		t.Error("in-flight entry must be cleared after a panic")
	}

	// The key is free again: the next call reaches the transport.
	ft.reply = nil
	if _, err := gw.Generate(ctx, request("mistral", "hi"), time.Second); err != nil {
		t.Fatalf("retry after panic: %v", err)
	}
}

func TestGenerate_MessageAssembly(t *testing.T) {
	ft := newFake(llm.ProviderAnthropic)
	gw := newGateway(t, nil, Options{}, ft)

	req := llm.GenerationRequest{
		Text:     "And now?",
		Provider: "anthropic",
		Model:    "claude",
		Context:  []llm.Turn{{Role: "user", Content: "Hi"}, {Role: "assistant", Content: "Hello"}},
		Params:   llm.Params{System: "Be brief.", MaxTokens: 50, Temperature: 0.2},
	}
	if _, err := gw.Generate(context.Background(), req, time.Second); err != nil {
		t.Fatal(err)
	}

	got := ft.lastReq
	roles := []string{"system", "user", "assistant", "user"}
	if len(got.Messages) != len(roles) {
		t.Fatalf("expected %d messages, got %+v", len(roles), got.Messages)
	}
	for i, r := range roles {
		if got.Messages[i].Role != r {
			t.Errorf("message %d: role %q, want %q", i, got.Messages[i].Role, r)
		}
	}
	if got.MaxTokens != 50 || got.Temperature != 0.2 {
		t.Errorf("params not forwarded: %+v", got)
	}
}

func TestGenerate_ToneReachesSystemPrompt(t *testing.T) {
	ft := newFake(llm.ProviderOllama)
	gw := newGateway(t, nil, Options{}, ft)

	req := llm.GenerationRequest{
		Text: "hi", Provider: "ollama", Model: "llama3.2",
		Params: llm.Params{System: "Be brief.", Tone: "formal"},
	}
	if _, err := gw.Generate(context.Background(), req, time.Second); err != nil {
		t.Fatal(err)
	}
	if got := ft.lastReq.Messages[0]; got.Role != "system" || got.Content != "Be brief. Use a formal tone." {
		t.Errorf("unexpected system message %+v", got)
	}

	req.Params.System = ""
	req.Text = "hello"
	if _, err := gw.Generate(context.Background(), req, time.Second); err != nil {
		t.Fatal(err)
	}
	if got := ft.lastReq.Messages[0]; got.Role != "system" || got.Content != "Use a formal tone." {
		t.Errorf("tone alone must still produce a system message, got %+v", got)
	}
}

func TestGenerate_CircuitBreakerFailsFast(t *testing.T) {
	ft := newFake(llm.ProviderGoogle)
	ft.reply = func(*providers.GenerateRequest) (*providers.GenerateResponse, error) {
		return nil, errors.New("connection refused")
	}
	cb := NewCircuitBreaker(CBConfig{ErrorThreshold: 2})
	gw := newGateway(t, nil, Options{CircuitBreaker: cb}, ft)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := gw.Generate(ctx, request("google", "hi"), time.Second)
		wantKind(t, err, TransportError)
	}

	_, err := gw.Generate(ctx, request("google", "hi"), time.Second)
	wantKind(t, err, ProviderUnavailable)
	if ft.calls.Load() != 2 {
		t.Errorf("open breaker must not call the transport, got %d calls", ft.calls.Load())
	}
}

func TestClassify(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		err  error
		want Kind
	}{
		{context.DeadlineExceeded, Timeout},
		{statusErr(401), ProviderRejected},
		{statusErr(404), ProviderRejected},
		{statusErr(408), TransportError},
		{statusErr(429), TransportError},
		{statusErr(503), TransportError},
		{errors.New("dial tcp: connection refused"), TransportError},
	}
	for _, tc := range cases {
		if got := classify("openai", ctx, tc.err).Kind; got != tc.want {
			t.Errorf("classify(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
}

func TestKind_HTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		Timeout:              504,
		ProviderUnavailable:  503,
		ProviderUnconfigured: 503,
		InvalidRequest:       400,
		ProviderRejected:     422,
		TransportError:       502,
	}
	for k, want := range cases {
		if got := (&GatewayError{Kind: k}).HTTPStatus(); got != want {
			t.Errorf("%s: got %d, want %d", k, got, want)
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
