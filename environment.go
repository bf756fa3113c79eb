package regime

import (
	"context"
	"sync"
	"time"

	"github.com/mongodb/amboy"
	"github.com/mongodb/amboy/queue"
	"github.com/mongodb/grip"
	"github.com/mongodb/grip/message"
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	globalEnv     Environment
	globalEnvLock = &sync.RWMutex{}
)

// GetEnvironment returns the environment registered with SetEnvironment, or
// nil.
func GetEnvironment() Environment {
	globalEnvLock.RLock()
	defer globalEnvLock.RUnlock()

	return globalEnv
}

// SetEnvironment registers the process-wide environment.
func SetEnvironment(env Environment) {
	globalEnvLock.Lock()
	defer globalEnvLock.Unlock()

	globalEnv = env
}

// Environment objects provide access to shared configuration and state, in
// a way that you can isolate and test for.
type Environment interface {
	// Context returns a context scoped to the lifetime of the
	// environment.
	Context() (context.Context, context.CancelFunc)

	GetConf() *Configuration

	// GetLocalQueue returns the started, in-memory queue that runs
	// detection jobs.
	GetLocalQueue() amboy.Queue

	// GetClient and GetDB return nil when no database is configured.
	GetClient() *mongo.Client
	GetDB() *mongo.Database
	HasDB() bool

	Close(context.Context) error
}

// NewEnvironment validates the configuration, connects to the database if
// one is configured, and starts a local queue.
func NewEnvironment(ctx context.Context, name string, conf *Configuration) (Environment, error) {
	if conf == nil {
		return nil, errors.New("cannot create an environment without a configuration")
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	env := &envState{name: name, conf: conf}
	env.ctx, env.cancel = context.WithCancel(ctx)

	if conf.MongoDBURI != "" {
		opts := options.Client().ApplyURI(conf.MongoDBURI).SetConnectTimeout(conf.MongoDBDialTimeout)
		client, err := mongo.Connect(env.ctx, opts)
		if err != nil {
			env.cancel()
			return nil, errors.Wrapf(err, "problem connecting to database at '%s'", conf.MongoDBURI)
		}
		env.client = client
	}

	env.queue = queue.NewLocalLimitedSize(conf.NumWorkers, LocalQueueSize)
	if err := env.queue.Start(env.ctx); err != nil {
		env.cancel()
		return nil, errors.Wrap(err, "problem starting local queue")
	}

	grip.Info(message.Fields{
		"message":  "configured environment",
		"name":     name,
		"workers":  conf.NumWorkers,
		"database": env.HasDB(),
		"revision": BuildRevision,
	})

	return env, nil
}

type envState struct {
	name   string
	conf   *Configuration
	queue  amboy.Queue
	client *mongo.Client
	ctx    context.Context
	cancel context.CancelFunc
	mutex  sync.RWMutex
}

func (e *envState) Context() (context.Context, context.CancelFunc) {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return context.WithCancel(e.ctx)
}

func (e *envState) GetConf() *Configuration {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	// copy the struct
	out := &Configuration{}
	*out = *e.conf

	return out
}

func (e *envState) GetLocalQueue() amboy.Queue {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.queue
}

func (e *envState) GetClient() *mongo.Client {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	return e.client
}

func (e *envState) HasDB() bool { return e.GetClient() != nil }

func (e *envState) GetDB() *mongo.Database {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	if e.client == nil {
		return nil
	}
	return e.client.Database(e.conf.DatabaseName)
}

// Close waits for queued jobs, up to the deadline of ctx, and then releases
// the database connection. An idle queue closes even when ctx is done.
func (e *envState) Close(ctx context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	catcher := grip.NewBasicCatcher()
	if e.queue != nil && e.queue.Info().Started {
		if !e.queue.Stats(ctx).IsComplete() && !amboy.WaitInterval(ctx, e.queue, 100*time.Millisecond) {
			catcher.New("timed out waiting for queued jobs")
		}
		e.queue.Close(ctx)
	}
	if e.client != nil {
		catcher.Wrap(e.client.Disconnect(ctx), "problem disconnecting from database")
		e.client = nil
	}
	e.cancel()

	grip.Debug(message.Fields{
		"message": "closed environment",
		"name":    e.name,
		"errors":  catcher.Len(),
	})

	return catcher.Resolve()
}
