package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"muster/internal/registry"
)

// providerRow is the wire shape of one provider in lookup results.
// Ages and the TTL are whole seconds; tags are always an array.
type providerRow struct {
	UUID         string   `json:"uuid"`
	Endpoint     string   `json:"endpoint"`
	Age          int64    `json:"age"`
	HeartbeatAge int64    `json:"heartbeatAge"`
	Tags         []string `json:"tags"`
	TTL          int64    `json:"ttl"`
	Service      string   `json:"service"`
}

func (s *Server) row(p registry.Provider) providerRow {
	now := s.now()
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	return providerRow{
		UUID:         p.ID.String(),
		Endpoint:     p.Endpoint,
		Age:          int64(p.Age(now) / time.Second),
		HeartbeatAge: int64(p.HeartbeatAge(now) / time.Second),
		Tags:         tags,
		TTL:          int64(p.TTL / time.Second),
		Service:      p.Service,
	}
}

func (s *Server) rows(providers []registry.Provider) []providerRow {
	out := make([]providerRow, 0, len(providers))
	for _, p := range providers {
		out = append(out, s.row(p))
	}
	return out
}

type registerRequest struct {
	Service  string   `json:"service"`
	Endpoint string   `json:"endpoint"`
	Tags     []string `json:"tags"`
	TTL      int64    `json:"ttl"`
}

type registerResponse struct {
	UUID string `json:"uuid"`
}

// handleRegister (POST /v1/register) creates a provider and returns
// its assigned uuid.
func (s *Server) handleRegister(c echo.Context) error {
	var req registerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	p, err := s.store.Register(req.Service, req.Endpoint, req.Tags, time.Duration(req.TTL)*time.Second)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, registerResponse{UUID: p.ID.String()})
}

// handleDeregister (DELETE /v1/providers/:uuid) removes a provider.
func (s *Server) handleDeregister(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if _, err := s.store.Deregister(id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, struct{}{})
}

// handleHeartbeat (PUT /v1/heartbeat/:uuid) refreshes a provider's
// heartbeat timestamp.
func (s *Server) handleHeartbeat(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := s.store.Heartbeat(id); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, struct{}{})
}

// handleGetProvider (GET /v1/providers/:uuid) returns one provider.
func (s *Server) handleGetProvider(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	p, err := s.store.LookupByID(id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s.row(p))
}

// handleLookupByName (GET /v1/services/:service) lists the providers
// of a service, oldest registration first. Unknown names yield an
// empty list.
func (s *Server) handleLookupByName(c echo.Context) error {
	return c.JSON(http.StatusOK, s.rows(s.store.LookupByName(c.Param("service"))))
}

// handleLookupByTag (GET /v1/tags/:tag) lists the providers carrying a
// tag, oldest registration first. Unknown tags yield an empty list.
func (s *Server) handleLookupByTag(c echo.Context) error {
	return c.JSON(http.StatusOK, s.rows(s.store.LookupByTag(c.Param("tag"))))
}

type snapshotResponse struct {
	Providers map[string]providerRow `json:"providers"`
	Tags      map[string][]string    `json:"tags"`
	Service   map[string][]string    `json:"service"`
}

// handleSnapshot (GET /v1/snapshot) returns a point-in-time copy of
// the full registry state.
func (s *Server) handleSnapshot(c echo.Context) error {
	snap := s.store.Snapshot()

	resp := snapshotResponse{
		Providers: make(map[string]providerRow, len(snap.Providers)),
		Tags:      make(map[string][]string, len(snap.ByTag)),
		Service:   make(map[string][]string, len(snap.ByName)),
	}
	for id, p := range snap.Providers {
		resp.Providers[id.String()] = s.row(p)
	}
	for tag, ids := range snap.ByTag {
		resp.Tags[tag] = idStrings(ids)
	}
	for name, ids := range snap.ByName {
		resp.Service[name] = idStrings(ids)
	}
	return c.JSON(http.StatusOK, resp)
}

type subscribeRequest struct {
	Webhook string `json:"webhook"`
}

// handleSubscribeName (POST /v1/subscriptions/services/:service)
// subscribes a webhook to changes of one service.
func (s *Server) handleSubscribeName(c echo.Context) error {
	var req subscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.directory.SubscribeName(c.Param("service"), req.Webhook); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, struct{}{})
}

// handleSubscribeTag (POST /v1/subscriptions/tags/:tag) subscribes a
// webhook to changes of providers carrying one tag.
func (s *Server) handleSubscribeTag(c echo.Context) error {
	var req subscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.directory.SubscribeTag(c.Param("tag"), req.Webhook); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, struct{}{})
}

// handleSubscribeAll (POST /v1/subscriptions/all) subscribes a webhook
// to every registry change.
func (s *Server) handleSubscribeAll(c echo.Context) error {
	var req subscribeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := s.directory.SubscribeAll(req.Webhook); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, struct{}{})
}

// paramID parses the :uuid path parameter. Malformed ids are a 400;
// well-formed but unknown ids surface later as ErrNotFound (404).
func paramID(c echo.Context) (registry.ProviderID, error) {
	id, err := registry.ParseProviderID(c.Param("uuid"))
	if err != nil {
		return registry.ProviderID{}, echo.NewHTTPError(http.StatusBadRequest, "malformed uuid")
	}
	return id, nil
}

func idStrings(ids []registry.ProviderID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}
