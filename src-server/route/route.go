package route

import (
	"net/http"

	"ganapp/src-server/notify"
	"ganapp/src-server/stream"
	"ganapp/src-server/utils"
)

// Services the handlers hand work off to.
type Services struct {
	Dispatcher *notify.Dispatcher
	Publisher  stream.Publisher
}

type router struct {
	muxer *http.ServeMux
	as    *utils.AppState
	svc   *Services
}

func (rt *router) handle(pattern string, handler func(http.ResponseWriter, *http.Request)) {
	rt.muxer.HandleFunc(pattern, instrument(rt.as, pattern, handler))
}

// Mounts every API route, and the SPA when a client directory is configured.
func Register(muxer *http.ServeMux, as *utils.AppState, svc *Services) {
	rt := &router{muxer: muxer, as: as, svc: svc}
	Auth(rt)
	Profile(rt)
	Event(rt)
	Registration(rt)
	CheckIn(rt)
	Survey(rt)
	Certificate(rt)
	Notification(rt)
	Support(rt)
	Admin(rt)
	if as.Config.GetStaticWebClientDir() != "" {
		SPA(muxer, as)
	}
}
