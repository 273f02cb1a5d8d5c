// Package stations fetches the public fuel-station directory and the
// per-station detail documents.
package stations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"gorm.io/datatypes"

	"github.com/bher20/fuelsync/internal/metrics"
	"github.com/bher20/fuelsync/internal/storage"
)

const (
	endpointDirectory = "directory"
	endpointDetail    = "detail"
)

// ErrIncomplete marks a detail document without name, address or fuels.
var ErrIncomplete = errors.New("station detail incomplete")

// StationRef is one entry of the station directory.
type StationRef struct {
	ID   string
	Name string
}

// Client talks to the station list and detail endpoints.
type Client struct {
	http    *http.Client
	workers int
	now     func() time.Time
	log     *slog.Logger
}

type Option func(*Client)

// WithWorkers bounds concurrent detail requests. Values below 2 keep the
// strictly sequential default.
func WithWorkers(n int) Option {
	return func(c *Client) { c.workers = n }
}

// WithClock overrides the clock used for CreatedAt/UpdatedAt.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

func NewClient(httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(0, false)
	}
	c := &Client{
		http:    httpClient,
		workers: 1,
		now:     time.Now,
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// flexID accepts both JSON numbers and strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if isNull(b) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("station id: %w", err)
	}
	*f = flexID(n.String())
	return nil
}

// looseString keeps text fields usable when upstream sends numbers or null.
type looseString string

func (l *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case isNull(b):
		*l = ""
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*l = looseString(s)
	default:
		*l = looseString(b)
	}
	return nil
}

type directoryResponse struct {
	Resultado []json.RawMessage `json:"resultado"`
}

type directoryEntry struct {
	ID   flexID      `json:"Id"`
	Nome looseString `json:"Nome"`
}

type detailDoc struct {
	Nome           json.RawMessage `json:"Nome"`
	Marca          looseString     `json:"Marca"`
	Utilizacao     looseString     `json:"Utilizacao"`
	Morada         json.RawMessage `json:"Morada"`
	HorarioPosto   json.RawMessage `json:"HorarioPosto"`
	Servicos       json.RawMessage `json:"Servicos"`
	MeiosPagamento json.RawMessage `json:"MeiosPagamento"`
	Combustiveis   json.RawMessage `json:"Combustiveis"`
}

type detailResponse struct {
	Resultado *detailDoc `json:"resultado"`
}

func isNull(b []byte) bool {
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}

func docOrNil(b json.RawMessage) datatypes.JSON {
	if isNull(b) {
		return nil
	}
	return datatypes.JSON(b)
}

func (c *Client) getJSON(ctx context.Context, endpoint, url string, out any) error {
	started := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		metrics.ObserveRequest(endpoint, started, "request")
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		metrics.ObserveRequest(endpoint, started, "transport")
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		metrics.ObserveRequest(endpoint, started, "status")
		return fmt.Errorf("GET %s: unexpected status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		metrics.ObserveRequest(endpoint, started, "decode")
		return fmt.Errorf("decode %s: %w", url, err)
	}
	metrics.ObserveRequest(endpoint, started, "")
	return nil
}

// FetchDirectory returns the station directory in upstream order. Failures
// are logged at debug level and yield an empty list.
func (c *Client) FetchDirectory(ctx context.Context, listURL string) []StationRef {
	var resp directoryResponse
	if err := c.getJSON(ctx, endpointDirectory, listURL, &resp); err != nil {
		c.log.Debug("stations: fetch directory failed", "url", listURL, "error", err)
		return nil
	}

	refs := make([]StationRef, 0, len(resp.Resultado))
	for i, raw := range resp.Resultado {
		var e directoryEntry
		if err := json.Unmarshal(raw, &e); err != nil {
			c.log.Debug("stations: skipping malformed directory entry", "index", i, "error", err)
			continue
		}
		refs = append(refs, StationRef{ID: string(e.ID), Name: string(e.Nome)})
	}
	metrics.StationsTotal.WithLabelValues(metrics.OutcomeListed).Add(float64(len(refs)))
	c.log.Info("stations: directory fetched", "count", len(refs))
	return refs
}

// FetchDetail fetches and validates one station. The detail URL is
// detailURL+ref.ID.
func (c *Client) FetchDetail(ctx context.Context, detailURL string, ref StationRef) (storage.Station, error) {
	var resp detailResponse
	if err := c.getJSON(ctx, endpointDetail, detailURL+ref.ID, &resp); err != nil {
		return storage.Station{}, err
	}
	return toStation(ref, resp.Resultado, c.now())
}

// toStation builds the station profile, rejecting documents without name,
// address or fuels.
func toStation(ref StationRef, doc *detailDoc, now time.Time) (storage.Station, error) {
	if doc == nil || isNull(doc.Nome) || isNull(doc.Morada) || isNull(doc.Combustiveis) {
		return storage.Station{}, fmt.Errorf("station %s: %w", ref.ID, ErrIncomplete)
	}
	name := ref.Name
	if name == "" {
		var detailName looseString
		if err := json.Unmarshal(doc.Nome, &detailName); err == nil {
			name = string(detailName)
		}
	}
	now = now.UTC().Truncate(time.Second)
	return storage.Station{
		ID:             ref.ID,
		Name:           name,
		Brand:          string(doc.Marca),
		Usage:          string(doc.Utilizacao),
		Address:        docOrNil(doc.Morada),
		OperatingHours: docOrNil(doc.HorarioPosto),
		Services:       docOrNil(doc.Servicos),
		PaymentMethods: docOrNil(doc.MeiosPagamento),
		Fuels:          docOrNil(doc.Combustiveis),
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// FetchDetails fetches every ref and returns the complete stations in
// directory order. A failing or incomplete station is logged at debug level
// and skipped.
func (c *Client) FetchDetails(ctx context.Context, detailURL string, refs []StationRef) []storage.Station {
	results := make([]*storage.Station, len(refs))

	fetch := func(i int) {
		ref := refs[i]
		st, err := c.FetchDetail(ctx, detailURL, ref)
		if err != nil {
			metrics.StationsTotal.WithLabelValues(metrics.OutcomeDropped).Inc()
			c.log.Debug("stations: detail skipped", "id", ref.ID, "error", err)
			return
		}
		results[i] = &st
	}

	if c.workers > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(c.workers)
		for i := range refs {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				fetch(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range refs {
			if ctx.Err() != nil {
				break
			}
			fetch(i)
		}
	}

	out := make([]storage.Station, 0, len(refs))
	for _, st := range results {
		if st != nil {
			out = append(out, *st)
		}
	}
	c.log.Info("stations: details fetched", "listed", len(refs), "kept", len(out))
	return out
}
