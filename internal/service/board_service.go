package service

import (
	"context"
	"errors"
	"net"
	"strconv"
	"strings"

	"github.com/mdario971/cactus-flasher/internal/models"
	"github.com/mdario971/cactus-flasher/internal/ports"
	"github.com/mdario971/cactus-flasher/internal/repository"
)

// TCPProber answers whether a TCP port accepts connections.
type TCPProber interface {
	ProbeTCP(ctx context.Context, host string, port int) bool
}

// WebEndpoint locates a board's web server.
type WebEndpoint struct {
	BaseURL  string
	Username string
	Password string
}

type BoardService struct {
	repo     repository.BoardRepo
	prober   TCPProber
	ddnsHost string
}

// NewBoardService returns a registry service. prober may be nil, in which case
// Get reports boards as offline without touching the network.
func NewBoardService(repo repository.BoardRepo, prober TCPProber, ddnsHost string) *BoardService {
	return &BoardService{repo: repo, prober: prober, ddnsHost: ddnsHost}
}

// networkHost is the address probes and uploads go to: the board's explicit host,
// else the shared DDNS endpoint whose forwarded ports tell boards apart.
func networkHost(b models.Board, ddnsHost string) string {
	if b.Host != "" {
		return b.Host
	}
	return ddnsHost
}

func (s *BoardService) view(b models.Board, online bool) models.BoardView {
	// ids are validated on the way in; a stored out-of-range id yields zero ports.
	tr, _ := ports.Resolve(b.ID)
	return models.BoardView{
		Name:          b.Name,
		ID:            b.ID,
		Type:          b.Type,
		Host:          networkHost(b, s.ddnsHost),
		Hostname:      ports.Hostname(b.Name, b.ID, b.Hostname, s.ddnsHost),
		WebserverPort: tr.Webserver,
		OTAPort:       tr.OTA,
		APIPort:       tr.API,
		Online:        online,
		MACAddress:    b.MACAddress,
		LastSeen:      b.LastSeen,
		Sensors:       b.Sensors,
		DeviceInfo:    b.DeviceInfo,
	}
}

// List returns every board in registration order. Online is only known after a scan.
func (s *BoardService) List(ctx context.Context) ([]models.BoardView, error) {
	boards, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.BoardView, 0, len(boards))
	for _, b := range boards {
		out = append(out, s.view(b, false))
	}
	return out, nil
}

// Get returns one board and checks its OTA port on the way.
func (s *BoardService) Get(ctx context.Context, name string) (models.BoardView, error) {
	b, err := s.repo.Get(ctx, name)
	if err != nil {
		return models.BoardView{}, err
	}
	online := false
	if s.prober != nil {
		if tr, err := ports.Resolve(b.ID); err == nil {
			online = s.prober.ProbeTCP(ctx, networkHost(b, s.ddnsHost), tr.OTA)
		}
	}
	return s.view(b, online), nil
}

func (s *BoardService) Create(ctx context.Context, in models.BoardCreate) (models.BoardView, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Type == "" {
		in.Type = models.BoardESP32
	}
	if err := validateBoard(in.Name, in.ID, in.Type); err != nil {
		return models.BoardView{}, err
	}

	existing, err := s.repo.List(ctx)
	if err != nil {
		return models.BoardView{}, err
	}
	if err := checkUnique(existing, in.Name, in.ID); err != nil {
		return models.BoardView{}, err
	}

	b := models.Board{
		Name:        in.Name,
		ID:          in.ID,
		Type:        in.Type,
		Host:        strings.TrimSpace(in.Host),
		Hostname:    strings.TrimSpace(in.Hostname),
		MACAddress:  strings.ToUpper(strings.TrimSpace(in.MACAddress)),
		WebUsername: in.WebUsername,
		WebPassword: in.WebPassword,
		APIKey:      in.APIKey,
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return models.BoardView{}, err
	}
	created, err := s.repo.Get(ctx, b.Name)
	if err != nil {
		return models.BoardView{}, err
	}
	return s.view(created, false), nil
}

func (s *BoardService) Update(ctx context.Context, name string, u models.BoardUpdate) (models.BoardView, error) {
	if u.Name != nil {
		trimmed := strings.TrimSpace(*u.Name)
		if trimmed == "" {
			return models.BoardView{}, models.Invalid("name", "must not be empty")
		}
		u.Name = &trimmed
		if trimmed != name {
			_, err := s.repo.Get(ctx, trimmed)
			switch {
			case err == nil:
				return models.BoardView{}, models.Invalid("name", "board %q already exists", trimmed)
			case !errors.Is(err, models.ErrNotFound):
				return models.BoardView{}, err
			}
		}
	}
	if u.Type != nil && !u.Type.Valid() {
		return models.BoardView{}, models.Invalid("type", "unsupported board type %q", *u.Type)
	}
	b, err := s.repo.Update(ctx, name, u)
	if err != nil {
		return models.BoardView{}, err
	}
	return s.view(b, false), nil
}

func (s *BoardService) Delete(ctx context.Context, name string) error {
	return s.repo.Delete(ctx, name)
}

// Export returns the stored boards, secrets included.
func (s *BoardService) Export(ctx context.Context) ([]models.Board, error) {
	return s.repo.List(ctx)
}

// Import registers boards that collide with nothing already stored and returns
// their names. Invalid or colliding entries are skipped.
func (s *BoardService) Import(ctx context.Context, boards []models.Board) ([]string, error) {
	existing, err := s.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	var imported []string
	for _, b := range boards {
		if b.Type == "" {
			b.Type = models.BoardESP32
		}
		if validateBoard(b.Name, b.ID, b.Type) != nil || checkUnique(existing, b.Name, b.ID) != nil {
			continue
		}
		if err := s.repo.Create(ctx, b); err != nil {
			if errors.Is(err, models.ErrValidation) {
				continue
			}
			return imported, err
		}
		existing = append(existing, b)
		imported = append(imported, b.Name)
	}
	return imported, nil
}

// Endpoint resolves the web server of a board for pass-through requests.
func (s *BoardService) Endpoint(ctx context.Context, name string) (WebEndpoint, error) {
	b, err := s.repo.Get(ctx, name)
	if err != nil {
		return WebEndpoint{}, err
	}
	tr, err := ports.Resolve(b.ID)
	if err != nil {
		return WebEndpoint{}, err
	}
	return WebEndpoint{
		BaseURL:  "http://" + net.JoinHostPort(networkHost(b, s.ddnsHost), strconv.Itoa(tr.Webserver)),
		Username: b.WebUsername,
		Password: b.WebPassword,
	}, nil
}

func validateBoard(name string, id int, typ models.BoardType) error {
	if name == "" {
		return models.Invalid("name", "must not be empty")
	}
	if _, err := ports.Resolve(id); err != nil {
		return err
	}
	if !typ.Valid() {
		return models.Invalid("type", "unsupported board type %q", typ)
	}
	return nil
}

func checkUnique(existing []models.Board, name string, id int) error {
	for _, b := range existing {
		if b.Name == name {
			return models.Invalid("name", "board %q already exists", name)
		}
		if b.ID == id {
			return models.Invalid("id", "board id %d is already used by %q", id, b.Name)
		}
	}
	return nil
}
