package poold

import (
	"bytes"
	"encoding/json"
	"math/big"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"omnipool/config"
	"omnipool/core/events"
	"omnipool/core/state"
	"omnipool/crypto"
	"omnipool/native/bank"
	"omnipool/native/exchange/oneinch"
	"omnipool/native/pool"
	"omnipool/native/settlement/zklink"
	"omnipool/storage"
)

const (
	testSecret   = "poold-test-secret"
	testInstance = "0x00000000000000000000000000000000000000F0"
	testGateway  = "0x00000000000000000000000000000000000000C0"
	testRouter   = "0x1111111254EEB25477B68FB85Ed929f73A960582"
	testToken    = "0x00000000000000000000000000000000000000AA"
	testUSDT     = "0x00000000000000000000000000000000000000DD"
)

var (
	testOwner    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	testRelayer  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	testUser     = common.HexToAddress("0x0000000000000000000000000000000000000003")
	testStranger = common.HexToAddress("0x0000000000000000000000000000000000000004")
)

type testStack struct {
	t        *testing.T
	cfg      *config.Config
	journal  *state.Journal
	ledger   *bank.Ledger
	engine   *pool.Engine
	gateway  *zklink.Gateway
	executor *Executor
	indexer  *Indexer
	hub      *Hub
	recon    *Reconciler
	idem     *IdempotencyStore
	server   *Server
	keys     []*crypto.PrivateKey
	reports  string
}

func testPoolConfig(t *testing.T, keys []*crypto.PrivateKey) *config.Config {
	t.Helper()
	signers := make([]string, 0, len(keys))
	for _, k := range keys {
		signers = append(signers, k.Address().Hex())
	}
	return &config.Config{
		Instance:         testInstance,
		ChainID:          1,
		DataDir:          t.TempDir(),
		Owner:            testOwner.Hex(),
		Signers:          signers,
		Whitelist:        []string{testRelayer.Hex()},
		MultiChainAssets: []string{testUSDT},
		Gateway:          testGateway,
		Assets: []config.AssetConfig{
			{Symbol: "TKN", Address: testToken},
			{Symbol: "USDT", Address: testUSDT},
		},
		Routers: []config.RouterConfig{{
			Address: testRouter,
			Rates:   []config.RateConfig{{Src: "NATIVE", Dst: "TKN", Num: "2", Den: "1"}},
		}},
		Balances: []config.BalanceConfig{
			{Holder: testUser.Hex(), Asset: "NATIVE", Amount: "1000000"},
			{Holder: testRouter, Asset: "TKN", Amount: "1000000"},
		},
	}
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()
	s := &testStack{t: t, reports: filepath.Join(t.TempDir(), "reports")}
	for i := 0; i < 3; i++ {
		key, err := crypto.GeneratePrivateKey()
		require.NoError(t, err)
		s.keys = append(s.keys, key)
	}
	s.cfg = testPoolConfig(t, s.keys)

	s.journal = state.NewJournal(storage.NewMemDB())
	s.ledger = bank.NewLedger(s.journal)
	var err error
	s.engine, s.gateway, err = buildEngine(s.cfg, s.journal, s.ledger)
	require.NoError(t, err)

	db, err := OpenDatabase(IndexerConfig{Driver: "sqlite", DSN: filepath.Join(t.TempDir(), "records.db")})
	require.NoError(t, err)
	s.indexer, err = NewIndexer(db, nil)
	require.NoError(t, err)
	s.hub = NewHub(16, 8)
	s.executor = NewExecutor(s.engine, s.journal,
		WithSink(events.Fanout{s.indexer, s.hub}),
		WithAssetLabels(s.cfg.AssetLabel),
	)
	require.NoError(t, bootstrap(s.executor, s.cfg, s.ledger))

	s.recon, err = NewReconciler(ReconConfig{Executor: s.executor, OutputDir: s.reports, Label: s.cfg.AssetLabel})
	require.NoError(t, err)
	s.idem, err = OpenIdempotencyStore(filepath.Join(t.TempDir(), "idem.db"), time.Hour, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.idem.Close() })
	auth, err := NewAuthenticator(AuthConfig{HMACSecret: testSecret}, nil)
	require.NoError(t, err)

	s.server, err = NewServer(ServerConfig{
		Executor:    s.executor,
		Assets:      s.ledger,
		Resolver:    s.cfg,
		Settlement:  s.gateway,
		Indexer:     s.indexer,
		Hub:         s.hub,
		Reconciler:  s.recon,
		Auth:        auth,
		Limiter:     NewRateLimiter(RateLimitConfig{RequestsPerMinute: 60000, Burst: 1000}),
		Idempotency: s.idem,
	})
	require.NoError(t, err)
	return s
}

func (s *testStack) token(caller common.Address) string {
	s.t.Helper()
	token, err := IssueToken(testSecret, caller, "", "", time.Hour, time.Now())
	require.NoError(s.t, err)
	return token
}

func (s *testStack) request(method, path string, caller common.Address, body any, headers ...string) *httptest.ResponseRecorder {
	s.t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(s.t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token(caller))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (s *testStack) expire() string {
	return strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10)
}

// signOrder co-signs req with the first n signer keys.
func (s *testStack) signOrder(req pool.AuthRequest, expire, orderID string, n int) map[string]any {
	s.t.Helper()
	digest, err := req.Digest()
	require.NoError(s.t, err)
	signers := make([]string, 0, n)
	sigs := make([]string, 0, n)
	for _, key := range s.keys[:n] {
		sig, err := crypto.SignPersonal(key, digest)
		require.NoError(s.t, err)
		signers = append(signers, key.Address().Hex())
		sigs = append(sigs, "0x"+common.Bytes2Hex(sig))
	}
	return map[string]any{"expireTime": expire, "orderId": orderID, "signers": signers, "signatures": sigs}
}

func (s *testStack) swapCallData(amount, minReturn int64) string {
	s.t.Helper()
	data, err := oneinch.EncodeSwap(common.HexToAddress("0xe0"), oneinch.SwapDescription{
		SrcToken:        oneinch.NativeMarker,
		DstToken:        common.HexToAddress(testToken),
		SrcReceiver:     common.HexToAddress(testRouter),
		DstReceiver:     common.HexToAddress(testInstance),
		Amount:          big.NewInt(amount),
		MinReturnAmount: big.NewInt(minReturn),
	}, nil)
	require.NoError(s.t, err)
	return "0x" + common.Bytes2Hex(data)
}

func (s *testStack) custody(holder, asset common.Address) *big.Int {
	s.t.Helper()
	bal, err := s.ledger.BalanceOf(holder, asset)
	require.NoError(s.t, err)
	return bal
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, rec)
	detail, ok := body["error"].(map[string]any)
	require.True(t, ok, "missing error body: %s", rec.Body.String())
	code, _ := detail["code"].(string)
	return code
}

func requireStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	require.Equal(t, want, rec.Code, rec.Body.String())
}
