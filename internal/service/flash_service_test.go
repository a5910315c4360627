package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdario971/cactus-flasher/internal/models"
	"github.com/mdario971/cactus-flasher/internal/ota"
)

type fakeUploader struct {
	mu      sync.Mutex
	targets []ota.Target
	images  []ota.Image
	steps   []int
	err     error
}

func (f *fakeUploader) Flash(ctx context.Context, t ota.Target, img ota.Image, onProgress func(ota.Progress)) (ota.Result, error) {
	f.mu.Lock()
	f.targets = append(f.targets, t)
	f.images = append(f.images, img)
	f.mu.Unlock()

	for _, p := range f.steps {
		onProgress(ota.Progress{Percent: p})
	}
	if f.err != nil {
		return ota.Result{}, f.err
	}
	onProgress(ota.Progress{Percent: 100})
	return ota.Result{Target: "OTA:8288", MD5: "abc"}, nil
}

type stubFirmware map[string][]byte

func (s stubFirmware) FirmwareFor(id string) ([]byte, error) {
	data, ok := s[id]
	if !ok {
		return nil, models.NotFound("build %q", id)
	}
	return data, nil
}

func newFlashFixture(t *testing.T, up *fakeUploader, fw FirmwareSource) (*FlashService, string) {
	t.Helper()
	repos := newTestRepos(t)
	ctx := context.Background()
	require.NoError(t, repos.Boards.Create(ctx, models.Board{
		Name: "cactus-sentinel", ID: 88, Type: models.BoardESP32, WebUsername: "admin", WebPassword: "pw",
	}))
	require.NoError(t, repos.Boards.Create(ctx, models.Board{
		Name: "lab", ID: 9, Type: models.BoardESP32, Host: "10.0.0.9",
	}))
	buildsDir := t.TempDir()
	return NewFlashService(repos.Boards, fw, up, FlashOptions{DDNSHost: testDDNS, BuildsDir: buildsDir}, nil), buildsDir
}

func TestFlashService_UploadSucceeds(t *testing.T) {
	up := &fakeUploader{steps: []int{0, 30, 20, 75}}
	svc, _ := newFlashFixture(t, up, nil)

	op, err := svc.Start(context.Background(), FlashRequest{
		BoardName: "cactus-sentinel", FileName: "node.bin", Firmware: []byte("firmware"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.FlashPending, op.Status)
	svc.Wait()

	got, err := svc.Status(op.FlashID)
	require.NoError(t, err)
	assert.Equal(t, models.FlashSuccess, got.Status)
	assert.Equal(t, 100, got.Progress)

	require.Len(t, up.targets, 1)
	assert.Equal(t, ota.Target{
		Host: testDDNS, OTAPort: 8288, WebPort: 8088, WebUsername: "admin", WebPassword: "pw",
	}, up.targets[0])
	assert.Equal(t, "node.bin", up.images[0].Name)
}

func TestFlashService_UploadFails(t *testing.T) {
	up := &fakeUploader{
		steps: []int{10, 60},
		err:   &ota.Error{Kind: ota.IntegrityMismatch, Message: "Flash failed (OTA:8209): HTTP 400 - bad md5"},
	}
	svc, _ := newFlashFixture(t, up, nil)

	op, err := svc.Start(context.Background(), FlashRequest{BoardName: "lab", FileName: "fw.bin", Firmware: []byte{1}})
	require.NoError(t, err)
	svc.Wait()

	got, err := svc.Status(op.FlashID)
	require.NoError(t, err)
	assert.Equal(t, models.FlashFailed, got.Status)
	assert.Equal(t, 60, got.Progress)
	assert.Equal(t, string(ota.IntegrityMismatch), got.Failure)
	assert.Contains(t, got.Message, "bad md5")
	assert.Equal(t, "10.0.0.9", up.targets[0].Host)
}

func TestFlashService_UploadOutlivesRequest(t *testing.T) {
	up := &fakeUploader{}
	svc, _ := newFlashFixture(t, up, nil)

	ctx, cancel := context.WithCancel(context.Background())
	op, err := svc.Start(ctx, FlashRequest{BoardName: "lab", FileName: "fw.bin", Firmware: []byte{1}})
	require.NoError(t, err)
	cancel()
	svc.Wait()

	got, _ := svc.Status(op.FlashID)
	assert.Equal(t, models.FlashSuccess, got.Status)
}

func TestFlashService_FromBuild(t *testing.T) {
	up := &fakeUploader{}
	svc, _ := newFlashFixture(t, up, stubFirmware{"ab12cd34": []byte("built")})

	op, err := svc.Start(context.Background(), FlashRequest{BoardName: "lab", BuildID: "ab12cd34"})
	require.NoError(t, err)
	svc.Wait()

	got, _ := svc.Status(op.FlashID)
	assert.Equal(t, models.FlashSuccess, got.Status)
	assert.Equal(t, []byte("built"), up.images[0].Data)
	assert.Equal(t, "firmware.bin", up.images[0].Name)

	_, err = svc.Start(context.Background(), FlashRequest{BoardName: "lab", BuildID: "missing"})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestFlashService_FirmwarePathMustStayInBuildsDir(t *testing.T) {
	up := &fakeUploader{}
	svc, buildsDir := newFlashFixture(t, up, nil)

	inside := filepath.Join(buildsDir, "ab12cd34", "firmware.bin")
	require.NoError(t, os.MkdirAll(filepath.Dir(inside), 0o755))
	require.NoError(t, os.WriteFile(inside, []byte("fw"), 0o644))

	_, err := svc.Start(context.Background(), FlashRequest{BoardName: "lab", FirmwarePath: inside})
	require.NoError(t, err)
	svc.Wait()

	outside := filepath.Join(t.TempDir(), "evil.bin")
	require.NoError(t, os.WriteFile(outside, []byte("fw"), 0o644))
	for _, p := range []string{outside, filepath.Join(buildsDir, "..", "evil.bin"), buildsDir} {
		_, err := svc.Start(context.Background(), FlashRequest{BoardName: "lab", FirmwarePath: p})
		assert.ErrorIs(t, err, models.ErrValidation, p)
	}
}

func TestFlashService_RejectsBadRequests(t *testing.T) {
	up := &fakeUploader{}
	svc, _ := newFlashFixture(t, up, stubFirmware{})

	tests := []struct {
		name string
		req  FlashRequest
		want error
	}{
		{"no board", FlashRequest{FileName: "a.bin", Firmware: []byte{1}}, models.ErrValidation},
		{"unknown board", FlashRequest{BoardName: "ghost", FileName: "a.bin", Firmware: []byte{1}}, models.ErrNotFound},
		{"not a bin", FlashRequest{BoardName: "lab", FileName: "a.hex", Firmware: []byte{1}}, models.ErrValidation},
		{"empty image", FlashRequest{BoardName: "lab", FileName: "a.bin", Firmware: []byte{}}, models.ErrValidation},
		{"no source", FlashRequest{BoardName: "lab"}, models.ErrValidation},
		{"two sources", FlashRequest{BoardName: "lab", FileName: "a.bin", Firmware: []byte{1}, BuildID: "x"}, models.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Start(context.Background(), tt.req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "err = %v", err)
		})
	}
	assert.Empty(t, up.targets)
	assert.Empty(t, svc.History())

	_, err := svc.Status("deadbeef")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
