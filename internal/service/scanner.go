package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mdario971/cactus-flasher/internal/logger"
	"github.com/mdario971/cactus-flasher/internal/models"
	"github.com/mdario971/cactus-flasher/internal/ports"
	"github.com/mdario971/cactus-flasher/internal/repository"
	"github.com/mdario971/cactus-flasher/internal/scrape"
)

// maxPageBytes bounds how much of a board's web page is kept for scraping.
const maxPageBytes = 256 << 10

// Dialer opens network connections. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// ScannerOptions tunes probing and discovery. Zero values fall back to defaults.
type ScannerOptions struct {
	DDNSHost    string
	TCPTimeout  time.Duration
	HTTPTimeout time.Duration
	MetaTimeout time.Duration
	Retries     int
	RetryDelay  time.Duration
	Concurrency int

	DiscoverMin         int
	DiscoverMax         int
	DiscoverTimeout     time.Duration
	DiscoverConcurrency int

	// Dialer is used for every TCP probe and HTTP request; nil means a plain net.Dialer.
	Dialer Dialer
}

func (o *ScannerOptions) applyDefaults() {
	if o.TCPTimeout <= 0 {
		o.TCPTimeout = 3 * time.Second
	}
	if o.HTTPTimeout <= 0 {
		o.HTTPTimeout = 3 * time.Second
	}
	if o.MetaTimeout <= 0 {
		o.MetaTimeout = 5 * time.Second
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.Concurrency <= 0 {
		o.Concurrency = 32
	}
	if o.DiscoverMin <= 0 {
		o.DiscoverMin = 8201
	}
	if o.DiscoverMax <= 0 {
		o.DiscoverMax = 8299
	}
	if o.DiscoverTimeout <= 0 {
		o.DiscoverTimeout = 2 * time.Second
	}
	if o.DiscoverConcurrency <= 0 {
		o.DiscoverConcurrency = 20
	}
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{}
	}
}

// ScannerService probes boards over TCP and HTTP.
type ScannerService struct {
	boards repository.BoardRepo
	status StatusLog
	opts   ScannerOptions
	client *http.Client
	log    *logger.Logger
	now    func() time.Time
}

func NewScannerService(boards repository.BoardRepo, status StatusLog, opts ScannerOptions, log *logger.Logger) *ScannerService {
	opts.applyDefaults()
	if log == nil {
		log = logger.Nop()
	}
	transport := &http.Transport{
		DialContext:       opts.Dialer.DialContext,
		DisableKeepAlives: true,
	}
	return &ScannerService{
		boards: boards,
		status: status,
		opts:   opts,
		client: &http.Client{
			Transport: transport,
			// A redirect still proves the web server is up.
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
		log: log,
		now: time.Now,
	}
}

// ProbeTCP reports whether host:port accepts a connection. A failed attempt is
// retried after the retry delay. Refusals and timeouts are just false.
func (s *ScannerService) ProbeTCP(ctx context.Context, host string, port int) bool {
	for attempt := 0; attempt <= s.opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false
			case <-time.After(s.opts.RetryDelay):
			}
		}
		if s.dial(ctx, host, port, s.opts.TCPTimeout) {
			return true
		}
	}
	return false
}

func (s *ScannerService) dial(ctx context.Context, host string, port int, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	conn, err := s.opts.Dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// ProbeHTTP fetches the root page of a web server. It is reachable when it answers
// 2xx or 3xx, or challenges with 401/403. The page body is returned on 200.
func (s *ScannerService) ProbeHTTP(ctx context.Context, host string, port int, user, pass string) (bool, []byte) {
	ctx, cancel := context.WithTimeout(ctx, s.opts.HTTPTimeout)
	defer cancel()

	url := "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false, nil
	}
	if user != "" && pass != "" {
		req.SetBasicAuth(user, pass)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, nil
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		page, _ := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
		return true, page
	case resp.StatusCode < 400,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return true, nil
	default:
		return false, nil
	}
}

// ScanOne probes one board and persists what it learned when the board is online.
func (s *ScannerService) ScanOne(ctx context.Context, b models.Board) ScanResult {
	return s.probe(ctx, b, true)
}

// probe checks the OTA and web ports concurrently. With harvest set, an online web
// server is also scraped for MAC, sensors and device info.
func (s *ScannerService) probe(ctx context.Context, b models.Board, harvest bool) ScanResult {
	host := networkHost(b, s.opts.DDNSHost)
	res := ScanResult{
		Name:       b.Name,
		ID:         b.ID,
		Type:       b.Type,
		Host:       host,
		Hostname:   ports.Hostname(b.Name, b.ID, b.Hostname, s.opts.DDNSHost),
		MACAddress: b.MACAddress,
		LastSeen:   b.LastSeen,
		Sensors:    b.Sensors,
		DeviceInfo: b.DeviceInfo,
	}
	tr, err := ports.Resolve(b.ID)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Ports = tr

	var page []byte
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.OTAOnline = s.ProbeTCP(ctx, host, tr.OTA)
	}()
	go func() {
		defer wg.Done()
		res.WebOnline, page = s.ProbeHTTP(ctx, host, tr.Webserver, b.WebUsername, b.WebPassword)
	}()
	wg.Wait()

	res.Online = res.OTAOnline || res.WebOnline
	if res.OTAOnline {
		res.APIOnline = s.dial(ctx, host, tr.API, s.opts.MetaTimeout)
	}
	if !res.Online {
		return res
	}

	update := models.ScanUpdate{LastSeen: s.now().UTC()}
	if harvest && res.WebOnline {
		s.harvest(ctx, b, host, tr.Webserver, page, &update)
	}
	if err := s.boards.SaveScan(ctx, b.Name, update); err != nil {
		s.log.Warnw("scan_save_failed", "board", b.Name, "err", err)
		res.Error = err.Error()
	}

	seen := update.LastSeen
	res.LastSeen = &seen
	if res.MACAddress == "" {
		res.MACAddress = update.MACAddress
	}
	res.Sensors = mergeSensors(b.Sensors, update.Sensors)
	res.DeviceInfo = mergeInfo(b.DeviceInfo, update.DeviceInfo)
	return res
}

func (s *ScannerService) harvest(ctx context.Context, b models.Board, host string, port int, page []byte, u *models.ScanUpdate) {
	text := string(page)
	if b.MACAddress == "" {
		u.MACAddress = scrape.MAC(text)
	}
	entities := scrape.Sensors(text)
	if len(entities) == 0 {
		entities = s.events(ctx, host, port, b.WebUsername, b.WebPassword)
	}
	if len(entities) > 0 {
		u.Sensors = make(map[string]models.Sensor, len(entities))
		for _, e := range entities {
			u.Sensors[e.ID] = e.Sensor()
		}
	}
	u.DeviceInfo = scrape.DeviceInfo(text)
}

// events reads the head of the board's /events stream.
func (s *ScannerService) events(ctx context.Context, host string, port int, user, pass string) []scrape.Entity {
	ctx, cancel := context.WithTimeout(ctx, s.opts.MetaTimeout)
	defer cancel()

	url := "http://" + net.JoinHostPort(host, strconv.Itoa(port)) + "/events"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "text/event-stream")
	if user != "" && pass != "" {
		req.SetBasicAuth(user, pass)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	return scrape.Events(resp.Body)
}

// ScanAll probes every registered board with bounded concurrency. Results keep
// registry order and each board gets one status log decision, in that order.
func (s *ScannerService) ScanAll(ctx context.Context) ([]ScanResult, error) {
	boards, err := s.boards.List(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]ScanResult, len(boards))
	var g errgroup.Group
	g.SetLimit(s.opts.Concurrency)
	for i, b := range boards {
		i, b := i, b
		g.Go(func() error {
			results[i] = s.ScanOne(ctx, b)
			return nil
		})
	}
	_ = g.Wait()

	online := 0
	for _, r := range results {
		if r.Online {
			online++
		}
		s.recordStatus(ctx, r)
	}
	s.log.Infow("scan_all_done", "boards", len(results), "online", online)
	return results, nil
}

// Ping checks reachability of one board without scraping metadata.
func (s *ScannerService) Ping(ctx context.Context, name string) (ScanResult, error) {
	b, err := s.boards.Get(ctx, name)
	if err != nil {
		return ScanResult{}, err
	}
	r := s.probe(ctx, b, false)
	s.recordStatus(ctx, r)
	return r, nil
}

func (s *ScannerService) recordStatus(ctx context.Context, r ScanResult) {
	// a board whose id has no ports was never probed
	if s.status == nil || r.Ports == (ports.Triple{}) {
		return
	}
	logged, err := s.status.Record(ctx, r.Name, r.Online, r.Details())
	if err != nil {
		s.log.Warnw("status_record_failed", "board", r.Name, "err", err)
		return
	}
	if logged {
		s.log.Infow("board_status_changed", "board", r.Name, "online", r.Online, "details", r.Details())
	}
}

// Discover sweeps the OTA port range on the DDNS host. Ids already registered are
// reported with IsNew=false and never registered twice.
func (s *ScannerService) Discover(ctx context.Context, autoRegister bool) (DiscoveryReport, error) {
	boards, err := s.boards.List(ctx)
	if err != nil {
		return DiscoveryReport{}, err
	}
	knownIDs := make(map[int]bool, len(boards))
	knownNames := make(map[string]bool, len(boards))
	for _, b := range boards {
		knownIDs[b.ID] = true
		knownNames[b.Name] = true
	}

	host := s.opts.DDNSHost
	var (
		mu    sync.Mutex
		found []Candidate
	)
	var g errgroup.Group
	g.SetLimit(s.opts.DiscoverConcurrency)
	for port := s.opts.DiscoverMin; port <= s.opts.DiscoverMax; port++ {
		port := port
		id, ok := ports.IDFromOTAPort(port)
		if !ok {
			continue
		}
		g.Go(func() error {
			if !s.dial(ctx, host, port, s.opts.DiscoverTimeout) {
				return nil
			}
			tr, _ := ports.Resolve(id)
			mu.Lock()
			found = append(found, Candidate{ID: id, Host: host, OTAPort: port, Ports: tr, IsNew: !knownIDs[id]})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	sort.Slice(found, func(i, j int) bool { return found[i].ID < found[j].ID })

	report := DiscoveryReport{Discovered: found, TotalFound: len(found), AutoRegistered: []string{}}
	if report.Discovered == nil {
		report.Discovered = []Candidate{}
	}
	for _, c := range found {
		if !c.IsNew {
			continue
		}
		report.NewBoards++
		if !autoRegister {
			continue
		}
		name := fmt.Sprintf("board-%02d", c.ID)
		if knownNames[name] {
			continue
		}
		err := s.boards.Create(ctx, models.Board{Name: name, ID: c.ID, Type: models.BoardESP32})
		if err != nil {
			if errors.Is(err, models.ErrValidation) {
				continue
			}
			return report, err
		}
		knownNames[name] = true
		report.AutoRegistered = append(report.AutoRegistered, name)
	}
	s.log.Infow("discovery_done", "host", host, "found", report.TotalFound, "new", report.NewBoards,
		"registered", len(report.AutoRegistered))
	return report, nil
}

func mergeSensors(stored, scraped map[string]models.Sensor) map[string]models.Sensor {
	if len(scraped) == 0 {
		return stored
	}
	out := make(map[string]models.Sensor, len(stored)+len(scraped))
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range scraped {
		out[k] = v
	}
	return out
}

func mergeInfo(stored, scraped map[string]models.Value) map[string]models.Value {
	if len(scraped) == 0 {
		return stored
	}
	out := make(map[string]models.Value, len(stored)+len(scraped))
	for k, v := range stored {
		out[k] = v
	}
	for k, v := range scraped {
		out[k] = v
	}
	return out
}
