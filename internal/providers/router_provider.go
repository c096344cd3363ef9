package providers

import (
	"net/http"
	"shd/internal/structures"

	"github.com/gorilla/mux"
)

type RouterProviderInterface interface {
	Get(url string, handler http.Handler)
	Post(url string, handler http.Handler)
	Use(middleware ...mux.MiddlewareFunc)
	GetRoutes() []structures.Route
	Handler() http.Handler
}

type RouterProvider struct {
	router *mux.Router
	routes []structures.Route
}

func (rp *RouterProvider) Get(url string, handler http.Handler) {
	rp.handle(http.MethodGet, url, handler)
}

func (rp *RouterProvider) Post(url string, handler http.Handler) {
	rp.handle(http.MethodPost, url, handler)
}

func (rp *RouterProvider) handle(method, url string, handler http.Handler) {
	rp.router.Handle(url, handler).Methods(method)
	rp.routes = append(rp.routes, structures.Route{
		Url:     url,
		Method:  method,
		Handler: handler,
	})
}

func (rp *RouterProvider) Use(middleware ...mux.MiddlewareFunc) {
	rp.router.Use(middleware...)
}

func (rp *RouterProvider) GetRoutes() []structures.Route {
	return rp.routes
}

// Handler returns the router; unmatched methods on a known path get 405.
func (rp *RouterProvider) Handler() http.Handler {
	return rp.router
}

func NewRouterProvider() RouterProviderInterface {
	router := mux.NewRouter()
	router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
	})
	return &RouterProvider{router: router}
}

// RouteTemplate is the matched route pattern, or the raw path outside the router.
func RouteTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return r.URL.Path
}
