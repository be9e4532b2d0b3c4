package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/robfig/cron/v3"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"comfyq/app/comfy"
	"comfyq/app/conditions"
	"comfyq/app/notify"
	"comfyq/app/presets"
	"comfyq/app/runner"
	"comfyq/app/session"
	"comfyq/app/store"
	"comfyq/app/web"
	"comfyq/app/workflow"
)

var opts struct {
	BaseURL      string        `long:"base-url" env:"COMFYUI_BASE_URL" default:"http://localhost:8188" description:"execution server base URL"`
	WSURL        string        `long:"ws-url" env:"COMFYUI_WS_URL" description:"execution server websocket URL, derived from base-url if empty"`
	Timeout      time.Duration `long:"timeout" env:"REQUEST_TIMEOUT" default:"90s" description:"per-generation timeout"`
	MaxActive    int           `long:"max-active" env:"MAX_ACTIVE_REQUESTS" default:"2" description:"per-client limit on in-flight generations"`
	GlobalMax    int           `long:"global-max-active" env:"GLOBAL_MAX_ACTIVE_REQUESTS" default:"100" description:"server-wide limit on in-flight generations, 0 to disable"`
	HistoryTTL   time.Duration `long:"history-ttl" env:"HISTORY_TTL" default:"24h" description:"how long terminal outcomes stay visible, 0 forever"`
	HistoryMax   int           `long:"history-max" env:"HISTORY_MAX" description:"max history entries, 0 unlimited"`
	StoreFile    string        `long:"store" env:"COMFYQ_STORE" default:"comfyq.db" description:"durable state file"`
	StoreMaxSize int           `long:"store-max-value-size" env:"COMFYQ_STORE_MAX_VALUE_SIZE" description:"max size of a single stored value in bytes, 0 for default"`
	WorkflowFile string        `long:"workflow" env:"COMFYQ_WORKFLOW" description:"workflow template file, built-in when empty"`
	PresetsFile  string        `long:"presets" env:"COMFYQ_PRESETS" description:"presets and tags file, built-in when empty"`
	Reconcile    string        `long:"reconcile" env:"COMFYQ_RECONCILE" default:"@every 10s" description:"reconciliation schedule"`
	Dbg          bool          `long:"dbg" env:"COMFYQ_DEBUG" description:"debug mode"`

	Web struct {
		Address   string  `long:"address" env:"ADDRESS" default:":8080" description:"listen address"`
		AuthHash  string  `long:"auth-hash" env:"AUTH_HASH" description:"bcrypt hash of the API password, empty disables auth"`
		SubmitRPS float64 `long:"submit-rps" env:"SUBMIT_RPS" default:"1" description:"rate limit for generation submissions"`
	} `group:"web" namespace:"web" env-namespace:"COMFYQ_WEB"`

	Repeater struct {
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"3" description:"how many times to repeat a failed submission"`
		Duration time.Duration `long:"duration" env:"DURATION" default:"1s" description:"initial duration"`
		Factor   float64       `long:"factor" env:"FACTOR" default:"3" description:"backoff factor"`
		Jitter   bool          `long:"jitter" env:"JITTER" description:"jitter"`
	} `group:"repeater" namespace:"repeater" env-namespace:"COMFYQ_REPEATER"`

	Notify struct {
		EnabledError         bool          `long:"enabled-error" env:"ENABLED_ERROR" description:"enable notifications on failed generations"`
		EnabledCompletion    bool          `long:"enabled-complete" env:"ENABLED_COMPLETE" description:"enable notifications on completed generations"`
		ErrorTemplate        string        `long:"err-template" env:"ERR_TEMPLATE" description:"error template file"`
		CompletionTemplate   string        `long:"complete-template" env:"COMPLET_TEMPLATE" description:"completion template file"`
		SMTPHost             string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host"`
		SMTPPort             int           `long:"smtp-port" env:"SMTP_PORT" description:"SMTP port"`
		SMTPUsername         string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword         string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS              bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
		SMTPTimeOut          time.Duration `long:"smtp-timeout" env:"SMTP_TIMEOUT" default:"10s" description:"SMTP TCP connection timeout"`
		FromEmail            string        `long:"from" env:"FROM" description:"from email"`
		ToEmails             []string      `long:"to" env:"TO" description:"to email(s)" env-delim:","`
		TelegramToken        string        `long:"telegram-token" env:"TELEGRAM_TOKEN" description:"telegram token"`
		TelegramDestinations []string      `long:"telegram-destinations" env:"TELEGRAM_DESTINATIONS" description:"telegram destinations" env-delim:","`
		WebhookURLs          []string      `long:"webhook-urls" env:"WEBHOOK_URLS" description:"webhook urls" env-delim:","`
		SlackToken           string        `long:"slack-token" env:"SLACK_TOKEN" description:"slack token"`
		SlackChannels        []string      `long:"slack-channels" env:"SLACK_CHANNELS" description:"slack channels" env-delim:","`
		HostName             string        `long:"host" env:"HOSTNAME" description:"host name running comfyq"`
	} `group:"notify" namespace:"notify" env-namespace:"COMFYQ_NOTIFY"`

	Limit struct {
		CPUBelow      int     `long:"cpu-below" env:"CPU_BELOW" default:"-1" description:"submit only when CPU usage is below this percent, -1 disables"`
		MemoryBelow   int     `long:"memory-below" env:"MEMORY_BELOW" default:"-1" description:"submit only when memory usage is below this percent, -1 disables"`
		LoadAvgBelow  float64 `long:"load-avg-below" env:"LOAD_AVG_BELOW" default:"-1" description:"submit only when 1m load average is below this, -1 disables"`
		DiskFreeAbove int     `long:"disk-free-above" env:"DISK_FREE_ABOVE" default:"-1" description:"submit only when free disk is above this percent, -1 disables"`
		DiskFreePath  string  `long:"disk-free-path" env:"DISK_FREE_PATH" default:"/" description:"path checked for free disk"`
	} `group:"limit" namespace:"limit" env-namespace:"COMFYQ_LIMIT"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"file" env:"FILE" default:"comfyq.log" description:"log file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size, in megabytes"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max age of rotated files, in days"`
		EnabledCompress bool   `long:"enabled-compress" env:"ENABLED_COMPRESS" description:"enable rotated files compression"`
	} `group:"log" namespace:"log" env-namespace:"COMFYQ_LOG"`
}

var revision = "unknown"

func main() {
	fmt.Printf("comfyq %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	st, err := store.NewSQLite(opts.StoreFile, opts.StoreMaxSize)
	if err != nil {
		return fmt.Errorf("can't open store %s: %w", opts.StoreFile, err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("[WARN] failed to close store: %v", err)
		}
	}()

	registry := session.NewRegistry(st)
	history := session.NewLedger(st, opts.HistoryTTL, opts.HistoryMax)

	rptr := repeater.New(&strategy.Backoff{Repeats: opts.Repeater.Attempts, Duration: opts.Repeater.Duration,
		Factor: opts.Repeater.Factor, Jitter: opts.Repeater.Jitter})

	clientID := session.LoadClientID(st)
	client := comfy.New(opts.BaseURL, makeWSURL(opts.BaseURL, opts.WSURL), clientID, opts.Timeout, rptr)

	reconciler := &session.Reconciler{
		Registry:    registry,
		History:     history,
		Resolver:    &runner.Resolver{Client: client},
		Concurrency: 4,
	}

	admission := &session.Admission{
		Registry:        registry,
		Counter:         client,
		MaxActive:       opts.MaxActive,
		GlobalMaxActive: opts.GlobalMax,
	}
	if checker := makeChecker(); checker != nil {
		admission.Guard = checker
	}

	template, err := makeWorkflow()
	if err != nil {
		return err
	}

	library, err := presets.Load(opts.PresetsFile)
	if err != nil {
		return fmt.Errorf("can't load presets: %w", err)
	}

	rnr := &runner.Runner{
		Registry:  registry,
		History:   history,
		Admission: admission,
		Client:    client,
		Workflow:  template,
	}
	if svc := makeNotifier(); svc != nil {
		rnr.Notifier = svc
	}

	manager := &session.Manager{Store: st, Registry: registry, History: history, Reconciler: reconciler}
	manager.Initialize(ctx)

	maintenance := cron.New()
	if _, err := maintenance.AddFunc(opts.Reconcile, func() {
		reconciler.Run(ctx)
		history.Sweep()
	}); err != nil {
		return fmt.Errorf("invalid reconcile schedule %q: %w", opts.Reconcile, err)
	}
	maintenance.Start()
	defer maintenance.Stop()

	srv, err := web.New(web.Config{
		Submitter:       rnr,
		Registry:        registry,
		History:         history,
		Info:            manager,
		Counter:         client,
		Library:         library,
		Version:         revision,
		PasswordHash:    opts.Web.AuthHash,
		SubmitRPS:       opts.Web.SubmitRPS,
		MaxActive:       opts.MaxActive,
		GlobalMaxActive: opts.GlobalMax,
	})
	if err != nil {
		return err
	}
	return srv.Run(ctx, opts.Web.Address)
}

// makeWSURL derives the websocket event URL from the base URL unless set
// explicitly. Empty result disables websocket hints, polling still works.
func makeWSURL(baseURL, wsURL string) string {
	if wsURL != "" {
		return wsURL
	}
	switch {
	case strings.HasPrefix(baseURL, "https://"):
		return "wss://" + strings.TrimPrefix(baseURL, "https://") + "/ws"
	case strings.HasPrefix(baseURL, "http://"):
		return "ws://" + strings.TrimPrefix(baseURL, "http://") + "/ws"
	}
	return ""
}

func makeWorkflow() (*workflow.Template, error) {
	if opts.WorkflowFile == "" {
		log.Printf("[DEBUG] no workflow file, using built-in template")
		return workflow.Default(), nil
	}
	template, err := workflow.Load(opts.WorkflowFile)
	if err != nil {
		return nil, fmt.Errorf("can't load workflow: %w", err)
	}
	return template, nil
}

func makeChecker() *conditions.Checker {
	cfg := conditions.Config{DiskFreePath: opts.Limit.DiskFreePath}
	if opts.Limit.CPUBelow >= 0 {
		cfg.CPUBelow = &opts.Limit.CPUBelow
	}
	if opts.Limit.MemoryBelow >= 0 {
		cfg.MemoryBelow = &opts.Limit.MemoryBelow
	}
	if opts.Limit.LoadAvgBelow >= 0 {
		cfg.LoadAvgBelow = &opts.Limit.LoadAvgBelow
	}
	if opts.Limit.DiskFreeAbove >= 0 {
		cfg.DiskFreeAbove = &opts.Limit.DiskFreeAbove
	}
	return conditions.NewChecker(cfg)
}

func makeNotifier() *notify.Service {
	if !opts.Notify.EnabledError && !opts.Notify.EnabledCompletion {
		return nil
	}

	if opts.Notify.FromEmail == "" {
		opts.Notify.FromEmail = "comfyq@" + makeHostName()
	}

	return notify.NewService(
		notify.Params{
			EnabledError:       opts.Notify.EnabledError,
			EnabledCompletion:  opts.Notify.EnabledCompletion,
			ErrorTemplate:      opts.Notify.ErrorTemplate,
			CompletionTemplate: opts.Notify.CompletionTemplate,
			HostName:           opts.Notify.HostName,
			Timeout:            opts.Notify.SMTPTimeOut,
		},
		notify.SendersParams{
			FromEmail:            opts.Notify.FromEmail,
			ToEmails:             opts.Notify.ToEmails,
			SMTPHost:             opts.Notify.SMTPHost,
			SMTPPort:             opts.Notify.SMTPPort,
			SMTPUsername:         opts.Notify.SMTPUsername,
			SMTPPassword:         opts.Notify.SMTPPassword,
			SMTPTLS:              opts.Notify.SMTPTLS,
			TelegramToken:        opts.Notify.TelegramToken,
			TelegramDestinations: opts.Notify.TelegramDestinations,
			WebhookURLs:          opts.Notify.WebhookURLs,
			SlackToken:           opts.Notify.SlackToken,
			SlackChannels:        opts.Notify.SlackChannels,
		},
	)
}

func makeHostName() string {
	if opts.Notify.HostName != "" {
		return opts.Notify.HostName
	}
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return host
}

func setupLogs() io.Writer {
	logOpts := []log.Option{log.Msec}
	if opts.Dbg {
		logOpts = []log.Option{log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile}
	}

	if !opts.Log.Enabled {
		log.Setup(logOpts...)
		return os.Stdout
	}

	fileLogger := &lumberjack.Logger{
		Filename:   opts.Log.Filename,
		MaxSize:    opts.Log.MaxSize,
		MaxBackups: opts.Log.MaxBackups,
		MaxAge:     opts.Log.MaxAge,
		Compress:   opts.Log.EnabledCompress,
	}
	logOpts = append(logOpts, log.Out(io.MultiWriter(os.Stdout, fileLogger)),
		log.Err(io.MultiWriter(os.Stderr, fileLogger)))
	log.Setup(logOpts...)
	return fileLogger
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			cancel() // terminate on SIGTERM
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM)
}
