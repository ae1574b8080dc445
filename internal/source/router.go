package source

import (
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Router splits one bot updates stream into channel posts and everything
// else. Telegram allows a single getUpdates consumer per token, so the
// command surface and the channel-post stream must share one long poll.
type Router struct {
	rec   telegramReceiver
	once  sync.Once
	stop  sync.Once
	posts chan tgbotapi.Update
	rest  chan tgbotapi.Update
}

// NewRouter creates a Router over the shared updates receiver.
func NewRouter(rec telegramReceiver) *Router {
	return &Router{
		rec:   rec,
		posts: make(chan tgbotapi.Update, 64),
		rest:  make(chan tgbotapi.Update, 64),
	}
}

// Posts returns the receiver view that delivers only channel posts.
// Stopping this view is a no-op so a monitoring session restart does not
// kill the shared poll underneath the command surface.
func (r *Router) Posts() *RouterView {
	return &RouterView{router: r, ch: r.posts}
}

// Commands returns the receiver view that delivers all other updates.
// Stopping this view stops the shared poll for good.
func (r *Router) Commands() *RouterView {
	return &RouterView{router: r, ch: r.rest, canStop: true}
}

func (r *Router) start() {
	r.once.Do(func() {
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := r.rec.GetUpdatesChan(u)
		go r.route(updates)
	})
}

func (r *Router) route(updates tgbotapi.UpdatesChannel) {
	defer close(r.posts)
	defer close(r.rest)
	for update := range updates {
		if update.ChannelPost != nil || update.EditedChannelPost != nil {
			// Posts are dropped when nobody is reading them, which is
			// exactly the off-schedule behavior: missed, not queued.
			select {
			case r.posts <- update:
			default:
			}
			continue
		}
		select {
		case r.rest <- update:
		default:
		}
	}
}

func (r *Router) stopReceiving() {
	r.stop.Do(r.rec.StopReceivingUpdates)
}

// RouterView exposes one side of the split stream with the same receiver
// shape the consumers expect.
type RouterView struct {
	router  *Router
	ch      chan tgbotapi.Update
	canStop bool
}

// GetUpdatesChan starts the shared poll and returns this view's stream.
// The passed config is ignored; the shared poll requests all update types.
func (v *RouterView) GetUpdatesChan(_ tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	v.router.start()
	return v.ch
}

// StopReceivingUpdates stops the shared long poll if this view owns it.
func (v *RouterView) StopReceivingUpdates() {
	if v.canStop {
		v.router.stopReceiving()
	}
}
