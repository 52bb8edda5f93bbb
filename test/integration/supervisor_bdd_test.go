//go:build integration

package integration

import (
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"syscall"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/proxy_mon/internal/config"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/daemon"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/infra"
	"github.com/eliteGoblin/focusd/proxy_mon/internal/policy"
	"github.com/eliteGoblin/focusd/proxy_mon/test/fixtures"
)

const mismatchLine = `2024/01/01 00:00:00 [error] 29#29: *1 user "bob": password mismatch, client: 10.0.0.1, server: _`

var _ = Describe("Supervisor", func() {
	var (
		tmpDir   string
		registry *httptest.Server
		cfg      *config.Config
		nginx    *fixtures.FakeNginx
		reload   []string
	)

	buildSupervisor := func() *daemon.Supervisor {
		logger := zap.NewNop()
		pm := infra.NewProcessManager()
		fs := infra.NewFileSystemManager()

		tasks, err := policy.Standard().Build(policy.Deps{
			Config:     cfg,
			FileSystem: fs,
			AllowList:  infra.NewAllowListBuilder(cfg.RegistryURL, cfg.IPListFilePath, cfg.AllowedCountries, fs, logger),
			Logger:     logger,
		})
		Expect(err).NotTo(HaveOccurred())

		command, err := nginx.Create()
		Expect(err).NotTo(HaveOccurred())

		supervisorConfig := daemon.DefaultSupervisorConfig()
		supervisorConfig.Command = command
		supervisorConfig.InputSocket = cfg.InputSocket
		supervisorConfig.OutputSocket = cfg.OutputSocket
		supervisorConfig.ResetInterval = cfg.ResetInterval

		return daemon.NewSupervisor(supervisorConfig, tasks, pm, fs, infra.NewReloader(reload, pm), logger).
			WithOutput(GinkgoWriter, GinkgoWriter)
	}

	run := func(s *daemon.Supervisor) (int, error) {
		type result struct {
			code int
			err  error
		}
		done := make(chan result, 1)
		go func() {
			code, err := s.Run(context.Background())
			done <- result{code, err}
		}()

		var r result
		Eventually(done, 20*time.Second).Should(Receive(&r))
		return r.code, r.err
	}

	counterPath := func() string {
		return filepath.Join(cfg.BasePath, policy.BasicAuthRuleName+".txt")
	}

	BeforeEach(func() {
		var err error
		tmpDir, err = os.MkdirTemp("", "proxymon-integration-*")
		Expect(err).NotTo(HaveOccurred())

		registry = fixtures.NewFakeRegistry(fixtures.SampleRegistry)
		nginx = fixtures.NewFakeNginx(filepath.Join(tmpDir, "nginx"))
		reload = []string{"true"}

		cfg = &config.Config{
			InputSocket:      filepath.Join(tmpDir, "run", "in", "nginx.sock"),
			OutputSocket:     filepath.Join(tmpDir, "run", "out", "nginx.sock"),
			BasePath:         filepath.Join(tmpDir, "counters"),
			AllowedCountries: []string{"JP"},
			IPListFilePath:   filepath.Join(tmpDir, "nginx", "conf.d", "iplist.conf"),
			BasicCheck:       "true",
			IPCheck:          "true",
			MaxTime:          3,
			ResetInterval:    time.Hour,
			RegistryURL:      registry.URL,
		}
	})

	AfterEach(func() {
		registry.Close()
		os.RemoveAll(tmpDir)
	})

	Describe("startup", func() {
		It("should build the allow-list before launching nginx", func() {
			nginx.Lines = []string{"nginx: ready"}

			code, err := run(buildSupervisor())
			Expect(err).NotTo(HaveOccurred())
			Expect(code).To(Equal(0))

			data, err := os.ReadFile(cfg.IPListFilePath)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(Equal("1.0.16.0/20 0;\n2001:200::/35 0;\n"))
			Expect(filepath.Join(tmpDir, "run", "out")).To(BeADirectory())
		})

		Context("when the registry is down and no allow-list exists", func() {
			It("should refuse to start", func() {
				registry.Close()
				registry = fixtures.NewFakeRegistry("")

				code, err := run(buildSupervisor())
				Expect(err).To(HaveOccurred())
				Expect(code).To(Equal(daemon.ExitFault))
				Expect(cfg.IPListFilePath).NotTo(BeAnExistingFile())
			})
		})

		Context("when the registry is down but a previous allow-list exists", func() {
			It("should keep the previous list and start", func() {
				registry.Close()
				registry = fixtures.NewFakeRegistry("")
				Expect(os.MkdirAll(filepath.Dir(cfg.IPListFilePath), 0755)).To(Succeed())
				Expect(os.WriteFile(cfg.IPListFilePath, []byte("10.0.0.0/8 0;\n"), 0644)).To(Succeed())

				code, err := run(buildSupervisor())
				Expect(err).NotTo(HaveOccurred())
				Expect(code).To(Equal(0))

				data, err := os.ReadFile(cfg.IPListFilePath)
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("10.0.0.0/8 0;\n"))
			})
		})
	})

	Describe("failure counting", func() {
		Context("when failures stay below MAX_TIME", func() {
			It("should keep nginx running and report its exit code", func() {
				nginx.Lines = []string{mismatchLine, mismatchLine}
				nginx.ExitCode = 7

				code, err := run(buildSupervisor())
				Expect(err).NotTo(HaveOccurred())
				Expect(code).To(Equal(7))

				data, err := os.ReadFile(counterPath())
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("2"))
			})
		})

		Context("when failures reach MAX_TIME", func() {
			It("should kill nginx", func() {
				nginx.Lines = []string{mismatchLine, mismatchLine, mismatchLine}
				nginx.Hold = true

				code, err := run(buildSupervisor())
				Expect(err).NotTo(HaveOccurred())
				Expect(code).To(Equal(128 + int(syscall.SIGKILL)))

				data, err := os.ReadFile(counterPath())
				Expect(err).NotTo(HaveOccurred())
				Expect(string(data)).To(Equal("3"))
			})
		})

		Context("when restarted after a kill", func() {
			It("should kill nginx on the first new failure", func() {
				Expect(os.MkdirAll(cfg.BasePath, 0755)).To(Succeed())
				Expect(os.WriteFile(counterPath(), []byte("3"), 0644)).To(Succeed())

				nginx.Lines = []string{mismatchLine}
				nginx.Hold = true

				code, err := run(buildSupervisor())
				Expect(err).NotTo(HaveOccurred())
				Expect(code).To(Equal(128 + int(syscall.SIGKILL)))
			})
		})

		Context("when BASIC_CHECK is false", func() {
			It("should ignore failures", func() {
				cfg.BasicCheck = "false"
				nginx.Lines = []string{mismatchLine, mismatchLine, mismatchLine, mismatchLine}

				code, err := run(buildSupervisor())
				Expect(err).NotTo(HaveOccurred())
				Expect(code).To(Equal(0))
				Expect(counterPath()).NotTo(BeAnExistingFile())
			})
		})
	})

	Describe("periodic reset", func() {
		It("should reset counters and reload nginx by signal on every tick", func() {
			cfg.ResetInterval = 300 * time.Millisecond
			reload = []string{infra.ReloadBySignal}
			nginx.Lines = []string{mismatchLine}
			nginx.Hold = true

			s := buildSupervisor()
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			done := make(chan int, 1)
			go func() {
				code, _ := s.Run(ctx)
				done <- code
			}()

			Eventually(nginx.Reloads, 5*time.Second, 50*time.Millisecond).Should(BeNumerically(">=", 1))
			Eventually(func() string {
				data, _ := os.ReadFile(counterPath())
				return string(data)
			}, 5*time.Second, 50*time.Millisecond).Should(Equal("0"))

			// Cancelling forwards SIGTERM to nginx.
			cancel()
			var code int
			Eventually(done, 10*time.Second).Should(Receive(&code))
			Expect(code).To(Equal(128 + int(syscall.SIGTERM)))
		})
	})
})
