//go:build integration

package integration

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/bridge"
	"github.com/eliteGoblin/focusd/site_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/infra"
	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
	"github.com/eliteGoblin/focusd/site_mon/internal/usecase"
	"github.com/eliteGoblin/focusd/site_mon/test/fixtures"
)

const extOrigin = "chrome-extension://sitemon"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// stack is a daemon wired the way `sitemon serve` wires it, minus the
// listener: plain store, bridge server, tab guard, coordinator.
type stack struct {
	coord  *daemon.Coordinator
	server *bridge.Server
	http   *httptest.Server
	addr   string
	cancel context.CancelFunc
	done   chan error
}

func startStack(dataDir string, clk *clock) *stack {
	logger := zap.NewNop()

	store, err := infra.NewPlainStore(dataDir)
	Expect(err).NotTo(HaveOccurred())

	server, err := bridge.NewServer(bridge.ServerConfig{AllowedOrigins: []string{extOrigin}}, logger)
	Expect(err).NotTo(HaveOccurred())

	matcher := policy.NewMatcher(logger)
	guard := usecase.NewTabGuard(usecase.TabGuardConfig{ExtensionOrigin: extOrigin}, server, matcher, logger)

	config := daemon.DefaultCoordinatorConfig()
	config.PollInterval = time.Hour
	config.HeartbeatInterval = time.Hour
	config.Location = time.UTC
	config.Now = clk.Now

	info := domain.DaemonInfo{PID: 1, ListenAddr: "test"}
	coord := daemon.NewCoordinator(config, store, guard, matcher, server, infra.NewFileRegistry(dataDir), info, logger)
	Expect(coord.Init(context.Background())).To(Succeed())

	server.SetHandler(coord)
	server.OnTabHostConnected(func(ctx context.Context) {
		_, _ = coord.Reconcile(ctx)
	})

	s := &stack{coord: coord, server: server, done: make(chan error, 1)}
	s.http = httptest.NewServer(server.Routes())
	s.addr = strings.TrimPrefix(s.http.URL, "http://")

	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	go func() { s.done <- coord.Run(ctx) }()
	return s
}

func (s *stack) stop() {
	s.cancel()
	Eventually(s.done, 2*time.Second).Should(Receive(MatchError(context.Canceled)))
	Expect(s.server.Close()).To(Succeed())
	s.http.Close()
	Expect(s.coord.Close()).To(Succeed())
}

func connect(addr string, tabs map[int]string) *fixtures.FakeExtension {
	ext := fixtures.NewFakeExtension(tabs)
	Expect(ext.Connect(context.Background(), addr, extOrigin, zap.NewNop())).To(Succeed())
	return ext
}

func dialCLI(addr string) *bridge.Client {
	c, err := bridge.Dial(context.Background(), bridge.ClientConfig{Addr: addr}, zap.NewNop())
	Expect(err).NotTo(HaveOccurred())
	return c
}

func blockPage(original string) string {
	return extOrigin + "/block?url=" + url.QueryEscape(original)
}

func blocking(name string, active bool, patterns ...string) *domain.Profile {
	p := domain.NewProfile(name)
	p.Options.IsActive = active
	for _, pattern := range patterns {
		p.Sites = append(p.Sites, domain.Site{Pattern: pattern})
	}
	return p
}

var _ = Describe("sitemon daemon", func() {
	var (
		dataDir string
		clk     *clock
		s       *stack
		ext     *fixtures.FakeExtension
		cli     *bridge.Client
		ctx     context.Context
	)

	BeforeEach(func() {
		dataDir = GinkgoT().TempDir()
		clk = &clock{now: time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)}
		ctx = context.Background()
		s = startStack(dataDir, clk)
		ext = connect(s.addr, map[int]string{
			1: "https://www.reddit.com/r/golang",
			2: "https://go.dev/doc",
		})
		cli = dialCLI(s.addr)
	})

	AfterEach(func() {
		cli.Close()
		ext.Close()
		s.stop()
	})

	Describe("activating a profile", func() {
		It("redirects matching open tabs and restores them when removed", func() {
			Expect(cli.Call(ctx, domain.ActionAddProfile, blocking("social", true, "reddit.com"), nil)).To(Succeed())

			Expect(ext.URL(1)).To(Equal(blockPage("https://www.reddit.com/r/golang")))
			Expect(ext.URL(2)).To(Equal("https://go.dev/doc"))
			Eventually(ext.Notifications).Should(BeNumerically(">=", 1))

			Expect(cli.Call(ctx, domain.ActionRemoveProfile, "social", nil)).To(Succeed())
			Expect(ext.URL(1)).To(Equal("https://www.reddit.com/r/golang"))
		})

		It("redirects navigation to a blocked site", func() {
			Expect(cli.Call(ctx, domain.ActionAddProfile, blocking("social", true, "youtube.com"), nil)).To(Succeed())

			redirected, err := ext.Navigate(ctx, 2, "https://youtube.com/watch?v=1")
			Expect(err).NotTo(HaveOccurred())
			Expect(redirected).To(BeTrue())
			Expect(ext.URL(2)).To(HavePrefix(extOrigin + "/block?url="))

			redirected, err = ext.Navigate(ctx, 2, "https://go.dev/")
			Expect(err).NotTo(HaveOccurred())
			Expect(redirected).To(BeFalse())
		})

		It("answers CheckUrl for the CLI", func() {
			Expect(cli.Call(ctx, domain.ActionAddProfile, blocking("social", true, "reddit.com"), nil)).To(Succeed())

			var d domain.Decision
			Expect(cli.Call(ctx, domain.ActionCheckURL, "https://old.reddit.com", &d)).To(Succeed())
			Expect(d.Blocked).To(BeTrue())
			Expect(d.Profile).To(Equal("social"))
		})
	})

	Describe("challenge lock", func() {
		It("refuses a mode switch that would evict a locked profile", func() {
			locked := blocking("deep-work", true, "news.ycombinator.com")
			locked.Options.Challenge.WaitTimeEnabled = true
			Expect(cli.Call(ctx, domain.ActionAddProfile, locked, nil)).To(Succeed())

			allow := blocking("allow-only", true, "go.dev")
			allow.Options.BlockMode = domain.AllowSites
			err := cli.Call(ctx, domain.ActionAddProfile, allow, nil)

			var remote *bridge.RemoteError
			Expect(errors.As(err, &remote)).To(BeTrue())
			Expect(remote.Message).To(ContainSubstring("challenge"))

			var profiles []*domain.Profile
			Expect(cli.Call(ctx, domain.ActionGetProfiles, nil, &profiles)).To(Succeed())
			Expect(profiles).To(HaveLen(1))
		})
	})

	Describe("schedule", func() {
		It("enables a profile when its event comes due", func() {
			p := blocking("focus", false, "reddit.com")
			p.Options.Schedule = domain.Schedule{
				IsEnabled: true,
				Events:    []domain.SchedEvent{{EventType: domain.EventEnable, TimeOfDay: domain.TimeOfDay{Hour: 9}}},
			}
			Expect(cli.Call(ctx, domain.ActionAddProfile, p, nil)).To(Succeed())
			Expect(ext.URL(1)).To(Equal("https://www.reddit.com/r/golang"))
			before := ext.Notifications()

			clk.Set(time.Date(2024, 3, 4, 9, 0, 30, 0, time.UTC))
			result, err := s.coord.Tick(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Changed()).To(BeTrue())

			Expect(ext.URL(1)).To(HavePrefix(extOrigin + "/block?url="))
			Eventually(ext.Notifications).Should(BeNumerically(">", before))

			var active domain.ActiveProfiles
			Expect(cli.Call(ctx, domain.ActionGetActiveProfiles, nil, &active)).To(Succeed())
			Expect(active.Selected).To(Equal("focus"))
		})
	})

	Describe("restart", func() {
		It("keeps profiles and re-blocks tabs when the extension reconnects", func() {
			Expect(cli.Call(ctx, domain.ActionAddProfile, blocking("social", true, "reddit.com"), nil)).To(Succeed())
			Expect(cli.Call(ctx, domain.ActionAddProfile, blocking("later", false, "news.com"), nil)).To(Succeed())

			cli.Close()
			ext.Close()
			s.stop()

			s = startStack(dataDir, clk)
			ext = connect(s.addr, map[int]string{7: "https://reddit.com/"})
			cli = dialCLI(s.addr)

			var profiles []*domain.Profile
			Expect(cli.Call(ctx, domain.ActionGetProfiles, nil, &profiles)).To(Succeed())
			Expect(profiles).To(HaveLen(2))
			Expect(profiles[0].Name).To(Equal("social"))
			Expect(profiles[0].Options.IsActive).To(BeTrue())

			Eventually(func() string { return ext.URL(7) }, 2*time.Second).
				Should(HavePrefix(extOrigin + "/block?url="))
		})
	})
})
