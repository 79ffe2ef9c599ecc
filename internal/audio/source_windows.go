//go:build windows

package audio

import (
	"fmt"
	"time"
	"unsafe"

	"github.com/go-ole/go-ole"
	"github.com/moutend/go-wca/pkg/wca"

	"github.com/lumibeat/lumibeat/internal/config"
)

// wasapiSource captures the system mix via a WASAPI loopback client on
// the default render endpoint. It must be created and driven from the
// capture goroutine, which holds a locked OS thread for COM.
type wasapiSource struct {
	audioClient   *wca.IAudioClient
	captureClient *wca.IAudioCaptureClient
	comInit       bool

	sampleRate int
	channels   int
	blockAlign int

	pending []float32
}

// pollInterval is the idle sleep between loopback buffer polls.
const pollInterval = 2 * time.Millisecond

// OpenSystemSource opens the platform capture source.
func OpenSystemSource(cfg config.AudioConfig) (Source, error) {
	s := &wasapiSource{}
	if err := s.open(cfg); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *wasapiSource) open(cfg config.AudioConfig) error {
	if err := ole.CoInitializeEx(0, ole.COINIT_APARTMENTTHREADED); err != nil {
		return fmt.Errorf("com init: %w", err)
	}
	s.comInit = true

	var enumerator *wca.IMMDeviceEnumerator
	if err := wca.CoCreateInstance(wca.CLSID_MMDeviceEnumerator, 0, wca.CLSCTX_ALL, wca.IID_IMMDeviceEnumerator, &enumerator); err != nil {
		return fmt.Errorf("device enumerator: %w", err)
	}
	defer enumerator.Release()

	var endpoint *wca.IMMDevice
	if err := enumerator.GetDefaultAudioEndpoint(wca.ERender, wca.EConsole, &endpoint); err != nil {
		return fmt.Errorf("default render endpoint: %w", err)
	}
	defer endpoint.Release()

	if err := endpoint.Activate(wca.IID_IAudioClient, wca.CLSCTX_ALL, nil, &s.audioClient); err != nil {
		return fmt.Errorf("activate audio client: %w", err)
	}

	var wfx *wca.WAVEFORMATEX
	if err := s.audioClient.GetMixFormat(&wfx); err != nil {
		return fmt.Errorf("mix format: %w", err)
	}
	defer ole.CoTaskMemFree(uintptr(unsafe.Pointer(wfx)))

	// Capture 16-bit PCM at the requested geometry; shared-mode WASAPI
	// resamples for us.
	wfx.WFormatTag = 1
	wfx.NSamplesPerSec = uint32(cfg.SampleRate)
	wfx.NChannels = uint16(cfg.Channels)
	wfx.WBitsPerSample = 16
	wfx.NBlockAlign = (wfx.WBitsPerSample / 8) * wfx.NChannels
	wfx.NAvgBytesPerSec = wfx.NSamplesPerSec * uint32(wfx.NBlockAlign)
	wfx.CbSize = 0

	s.sampleRate = int(wfx.NSamplesPerSec)
	s.channels = int(wfx.NChannels)
	s.blockAlign = int(wfx.NBlockAlign)

	var defaultPeriod, minimumPeriod wca.REFERENCE_TIME
	if err := s.audioClient.GetDevicePeriod(&defaultPeriod, &minimumPeriod); err != nil {
		return fmt.Errorf("device period: %w", err)
	}

	if err := s.audioClient.Initialize(
		wca.AUDCLNT_SHAREMODE_SHARED,
		wca.AUDCLNT_STREAMFLAGS_LOOPBACK,
		defaultPeriod, 0, wfx, nil,
	); err != nil {
		return fmt.Errorf("initialize loopback client: %w", err)
	}

	if err := s.audioClient.GetService(wca.IID_IAudioCaptureClient, &s.captureClient); err != nil {
		return fmt.Errorf("capture service: %w", err)
	}
	return nil
}

func (s *wasapiSource) Start() error {
	if err := s.audioClient.Start(); err != nil {
		return fmt.Errorf("start loopback capture: %w", err)
	}
	return nil
}

// Read fills buf with interleaved samples, polling the loopback buffer
// until enough frames accumulated.
func (s *wasapiSource) Read(buf []float32) error {
	for len(s.pending) < len(buf) {
		if err := s.fetchPacket(); err != nil {
			return err
		}
	}
	copy(buf, s.pending[:len(buf)])
	s.pending = s.pending[:copy(s.pending, s.pending[len(buf):])]
	return nil
}

// fetchPacket drains one loopback packet into the pending buffer, or
// sleeps briefly when the device has nothing yet.
func (s *wasapiSource) fetchPacket() error {
	var (
		data           *byte
		frames         uint32
		flags          uint32
		devicePosition uint64
		qpcPosition    uint64
	)
	if err := s.captureClient.GetBuffer(&data, &frames, &flags, &devicePosition, &qpcPosition); err != nil {
		return fmt.Errorf("get loopback buffer: %w", err)
	}
	if frames == 0 {
		time.Sleep(pollInterval)
		return nil
	}

	silent := flags&0x2 != 0 // AUDCLNT_BUFFERFLAGS_SILENT
	samples := int(frames) * s.channels
	base := unsafe.Pointer(data)
	for i := 0; i < samples; i++ {
		if silent {
			s.pending = append(s.pending, 0)
			continue
		}
		v := *(*int16)(unsafe.Pointer(uintptr(base) + uintptr(i*2)))
		s.pending = append(s.pending, float32(v)/32768)
	}

	if err := s.captureClient.ReleaseBuffer(frames); err != nil {
		return fmt.Errorf("release loopback buffer: %w", err)
	}
	return nil
}

func (s *wasapiSource) SampleRate() int { return s.sampleRate }
func (s *wasapiSource) Channels() int   { return s.channels }

func (s *wasapiSource) Close() error {
	if s.audioClient != nil {
		_ = s.audioClient.Stop()
	}
	if s.captureClient != nil {
		s.captureClient.Release()
		s.captureClient = nil
	}
	if s.audioClient != nil {
		s.audioClient.Release()
		s.audioClient = nil
	}
	if s.comInit {
		ole.CoUninitialize()
		s.comInit = false
	}
	return nil
}
