package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	gonotify "github.com/go-pkgz/notify"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/arbor/app/artifact"
	"github.com/umputun/arbor/app/configs"
	"github.com/umputun/arbor/app/jobs"
	"github.com/umputun/arbor/app/ml"
	"github.com/umputun/arbor/app/notify"
	"github.com/umputun/arbor/app/store"
	"github.com/umputun/arbor/app/task"
	"github.com/umputun/arbor/app/trigger"
	"github.com/umputun/arbor/app/web"
)

var opts struct {
	DB             string `long:"db" env:"ARBOR_DB" default:"arbor.db" description:"sqlite database file"`
	Listen         string `long:"listen" env:"ARBOR_LISTEN" default:"127.0.0.1:8080" description:"web server listen address"`
	MaxConcurrency int    `long:"max-concurrency" env:"ARBOR_MAX_CONCURRENCY" default:"4" description:"max number of running jobs"`
	Triggers       string `long:"triggers" env:"ARBOR_TRIGGERS" description:"yaml file with cron triggers"`
	Dbg            bool   `long:"dbg" env:"ARBOR_DEBUG" description:"debug mode"`

	Hierarchy struct {
		Name   string   `long:"name" env:"NAME" default:"ml" description:"hierarchy name"`
		Labels []string `long:"label" env:"LABELS" env-delim:"," description:"level label as depth:label, ml labels if not set"`
	} `group:"hierarchy" namespace:"hierarchy" env-namespace:"ARBOR_HIERARCHY"`

	Task struct {
		MaxLogLines int  `long:"max-log-lines" env:"MAX_LOG_LINES" default:"100" description:"max output lines kept per shell task"`
		LogPrefix   bool `long:"log-prefix" env:"LOG_PREFIX" description:"pass shell task output to stdout prefixed by task name"`
	} `group:"task" namespace:"task" env-namespace:"ARBOR_TASK"`

	ML struct {
		TrainCmd   string `long:"train-cmd" env:"TRAIN_CMD" description:"shell train command, built-in mean model if not set"`
		PredictCmd string `long:"predict-cmd" env:"PREDICT_CMD" description:"shell predict command"`
	} `group:"ml" namespace:"ml" env-namespace:"ARBOR_ML"`

	Notify struct {
		EnabledError      bool          `long:"enabled-error" env:"ENABLED_ERROR" description:"enable notifications on failed jobs"`
		EnabledCompletion bool          `long:"enabled-complete" env:"ENABLED_COMPLETE" description:"enable notifications on completed jobs"`
		SMTPHost          string        `long:"smtp-host" env:"SMTP_HOST" description:"SMTP host"`
		SMTPPort          int           `long:"smtp-port" env:"SMTP_PORT" default:"25" description:"SMTP port"`
		SMTPUsername      string        `long:"smtp-username" env:"SMTP_USERNAME" description:"SMTP user name"`
		SMTPPassword      string        `long:"smtp-password" env:"SMTP_PASSWORD" description:"SMTP password"`
		SMTPTLS           bool          `long:"smtp-tls" env:"SMTP_TLS" description:"enable SMTP TLS"`
		SMTPTimeOut       time.Duration `long:"smtp-timeout" env:"SMTP_TIMEOUT" default:"10s" description:"SMTP TCP connection timeout"`
		From              string        `long:"from" env:"FROM" description:"SMTP from email"`
		To                []string      `long:"to" env:"TO" env-delim:"," description:"SMTP to email(s)"`
		SlackToken        string        `long:"slack-token" env:"SLACK_TOKEN" description:"slack token"`
		SlackChannels     []string      `long:"slack-chan" env:"SLACK_CHAN" env-delim:"," description:"slack channel(s)"`
		Webhooks          []string      `long:"webhook" env:"WEBHOOK" env-delim:"," description:"webhook url(s)"`
		WebhookHeaders    []string      `long:"webhook-header" env:"WEBHOOK_HEADER" env-delim:"," description:"webhook header as name:value"`
		ErrorTemplate     string        `long:"err-template" env:"ERR_TEMPLATE" description:"html template file for failed job message"`
		DoneTemplate      string        `long:"done-template" env:"DONE_TEMPLATE" description:"html template file for completed job message"`
		HostName          string        `long:"host" env:"HOSTNAME" description:"host name running arbor"`
	} `group:"notify" namespace:"notify" env-namespace:"ARBOR_NOTIFY"`

	Web struct {
		Rate float64 `long:"rate" env:"RATE" default:"10" description:"per-ip submits per second, 0 disables the limit"`
	} `group:"web" namespace:"web" env-namespace:"ARBOR_WEB"`

	Log struct {
		Enabled         bool   `long:"enabled" env:"ENABLED" description:"enable logging to file"`
		Filename        string `long:"filename" env:"FILENAME" default:"arbor.log" description:"log file name"`
		MaxSize         int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in MB"`
		MaxBackups      int    `long:"max-backups" env:"MAX_BACKUPS" default:"10" description:"max number of rotated files"`
		MaxAge          int    `long:"max-age" env:"MAX_AGE" default:"30" description:"max age of rotated files in days"`
		EnabledCompress bool   `long:"compress" env:"COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"ARBOR_LOG"`
}

var revision = "unknown"

func main() {
	fmt.Printf("arbor %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	logOut := setupLogs()

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	signals(cancel) // handle SIGQUIT, SIGINT and SIGTERM

	if err := run(ctx, logOut); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

// run wires stores, engine and managers, then serves api until ctx is done.
// logOut gets prefixed output of shell commands if enabled.
func run(ctx context.Context, logOut io.Writer) error {
	hierarchy, err := makeHierarchy(opts.Hierarchy.Name, opts.Hierarchy.Labels)
	if err != nil {
		return err
	}

	db, err := store.NewSQLite(opts.DB)
	if err != nil {
		return fmt.Errorf("can't open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Printf("[WARN] can't close store, %v", err)
		}
	}()

	engine, err := artifact.NewEngine(db.Artifacts(), artifact.Params{Hierarchy: hierarchy})
	if err != nil {
		return err
	}
	cfgs, err := configs.NewManager(db.Configs(), engine)
	if err != nil {
		return err
	}
	engine.SetConfigs(cfgs)

	schedParams := jobs.Params{MaxConcurrency: opts.MaxConcurrency}
	if notifier := makeNotifier(); notifier != nil {
		schedParams.OnFinish = notifier.OnJobFinished
	}
	scheduler := jobs.New(schedParams)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := scheduler.Shutdown(shutdownCtx); err != nil {
			log.Printf("[WARN] scheduler shutdown, %v", err)
		}
	}()

	registry, err := task.NewRegistry(task.Builtins()...)
	if err != nil {
		return err
	}
	executor := &task.ShellExecutor{MaxLines: opts.Task.MaxLogLines}
	if opts.Task.LogPrefix {
		executor.LogWriter = logOut
	}
	tasks, err := task.NewManager(task.Params{Store: db.Tasks(), Scheduler: scheduler, Artifacts: engine,
		Configs: cfgs, Registry: registry, Executor: executor})
	if err != nil {
		return err
	}

	runner, err := makeRunner(executor.LogWriter)
	if err != nil {
		return err
	}
	mlManager, err := ml.NewManager(ml.Params{Runner: runner, Scheduler: scheduler, Artifacts: engine, Configs: cfgs})
	if err != nil {
		return err
	}

	if opts.Triggers != "" {
		if err := startTriggers(ctx, opts.Triggers, tasks, scheduler); err != nil {
			return err
		}
	}

	srv, err := web.New(web.Config{Jobs: scheduler, Artifacts: engine, Configs: cfgs, Tasks: tasks, ML: mlManager,
		Version: revision, SubmitLimit: opts.Web.Rate})
	if err != nil {
		return err
	}
	return srv.Run(ctx, opts.Listen)
}

// startTriggers loads triggers file and runs them in background
func startTriggers(ctx context.Context, path string, tasks *task.Manager, scheduler *jobs.Scheduler) error {
	file, err := trigger.Load(path)
	if err != nil {
		return err
	}
	svc, err := trigger.New(trigger.Params{Submitter: tasks, Waiter: scheduler})
	if err != nil {
		return err
	}
	go func() {
		if err := svc.Run(ctx, file.Triggers); err != nil {
			log.Printf("[WARN] triggers stopped, %v", err)
		}
	}()
	log.Printf("[INFO] %d triggers loaded from %s", len(file.Triggers), path)
	return nil
}

// makeNotifier makes notification service, nil if notifications disabled or no destinations set
func makeNotifier() *notify.Service {
	if !opts.Notify.EnabledError && !opts.Notify.EnabledCompletion {
		return nil
	}
	host := makeHostName()
	from := opts.Notify.From
	if from == "" {
		from = "arbor@" + host
	}
	return notify.NewService(notify.Params{
		ErrorTemplate:      opts.Notify.ErrorTemplate,
		CompletionTemplate: opts.Notify.DoneTemplate,
		EnabledError:       opts.Notify.EnabledError,
		EnabledCompletion:  opts.Notify.EnabledCompletion,
		HostName:           host,
	}, notify.SendersParams{
		SMTP: gonotify.SMTPParams{
			Host:        opts.Notify.SMTPHost,
			Port:        opts.Notify.SMTPPort,
			TLS:         opts.Notify.SMTPTLS,
			Username:    opts.Notify.SMTPUsername,
			Password:    opts.Notify.SMTPPassword,
			TimeOut:     opts.Notify.SMTPTimeOut,
			ContentType: "text/html",
		},
		FromEmail:      from,
		ToEmails:       opts.Notify.To,
		SlackToken:     opts.Notify.SlackToken,
		SlackChannels:  opts.Notify.SlackChannels,
		WebhookURLs:    opts.Notify.Webhooks,
		WebhookHeaders: opts.Notify.WebhookHeaders,
	})
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

// makeRunner makes shell runner if any ml command set, mean runner otherwise
func makeRunner(logOut io.Writer) (ml.Runner, error) {
	if opts.ML.TrainCmd == "" && opts.ML.PredictCmd == "" {
		return ml.MeanRunner{}, nil
	}
	res := &ml.ShellRunner{TrainCommand: opts.ML.TrainCmd, PredictCommand: opts.ML.PredictCmd,
		MaxLines: opts.Task.MaxLogLines, LogWriter: logOut}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	log.Printf("[INFO] ml commands: train %q, predict %q", res.TrainCommand, res.PredictCommand)
	return res, nil
}

// makeHierarchy parses depth:label pairs, ml labels used if none given
func makeHierarchy(name string, labels []string) (*artifact.Hierarchy, error) {
	if len(labels) == 0 {
		h := ml.DefaultHierarchy()
		if name != "" {
			h.Name = name
		}
		return h, nil
	}
	res := make(map[int]string, len(labels))
	for _, l := range labels {
		depth, label, ok := strings.Cut(l, ":")
		if !ok || strings.TrimSpace(label) == "" {
			return nil, fmt.Errorf("bad level label %q, expected depth:label", l)
		}
		d, err := strconv.Atoi(strings.TrimSpace(depth))
		if err != nil {
			return nil, fmt.Errorf("bad depth in level label %q: %w", l, err)
		}
		res[d] = strings.TrimSpace(label)
	}
	return artifact.NewHierarchy(name, res)
}

// setupLogs configures lgr and returns where logs are written to
func setupLogs() io.Writer {
	out := io.Writer(os.Stdout)
	if opts.Log.Enabled && opts.Log.Filename != "" {
		out = &lumberjack.Logger{
			Filename:   opts.Log.Filename,
			MaxSize:    opts.Log.MaxSize,
			MaxBackups: opts.Log.MaxBackups,
			MaxAge:     opts.Log.MaxAge,
			Compress:   opts.Log.EnabledCompress,
		}
	}

	if opts.Dbg {
		log.Setup(log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile, log.Out(out), log.Err(out))
		return out
	}
	log.Setup(log.Msec, log.Out(out), log.Err(out))
	return out
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
			log.Printf("[INFO] %v received, terminating", sig)
			cancel()
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGINT, syscall.SIGTERM)
}
