package publish

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/blemux/internal/ble"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memorySink keeps published payloads.
type memorySink struct {
	mu       sync.Mutex
	topics   []string
	payloads [][]byte
	err      error
}

func (s *memorySink) Publish(topic string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.topics = append(s.topics, topic)
	s.payloads = append(s.payloads, append([]byte(nil), payload...))
	return nil
}

func (s *memorySink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.payloads)
}

func TestOperationRecordJSON(t *testing.T) {
	op := ble.NewOperation("001A22092EE0", "3e135142-654f-9090-134a-a6ff5bb77046", "3fa4585a-ce4a-3bad-db4b-b8df8179ea09")
	op.ID = 3
	require.NoError(t, op.SetWrite([]byte{0x03}))
	op.NotifyResult.Set([]byte{0x02, 0x01, 0x09, 0x00, 0x04, 0x28})
	op.RSSI, op.HasRSSI = -60, true

	payload, err := json.Marshal(NewOperationRecord(op))
	require.NoError(t, err)

	var got map[string]map[string]any
	require.NoError(t, json.Unmarshal(payload, &got))
	body := got["BLEOperation"]
	require.NotNil(t, body)
	assert.Equal(t, float64(3), body["opid"])
	assert.Equal(t, "IDLE", body["stateName"])
	assert.Equal(t, "03", body["wrote"])
	assert.Equal(t, "020109000428", body["notify"])
	assert.Equal(t, float64(-60), body["RSSI"])
	assert.NotContains(t, body, "read", "empty fields are omitted")
	assert.NotContains(t, body, "notifychar")
	assert.NotContains(t, body, "readtruncated")
}

func TestOperationRecordTruncatedAndNoRSSI(t *testing.T) {
	op := ble.NewOperation("001A22092EE0", "180f", "2a19")
	op.ReadResult.Set(bytes.Repeat([]byte{0xFF}, 150))

	rec := NewOperationRecord(op)
	assert.True(t, rec.Operation.ReadTruncated)
	assert.Len(t, rec.Operation.Read, 2*ble.MaxDataLen)
	assert.Nil(t, rec.Operation.RSSI)
}

func TestPublisherPublishOperation(t *testing.T) {
	sink := &memorySink{}
	p := NewPublisher(sink, "tele/blemux/SENSOR", discardLogger())

	op := ble.NewOperation("001A22092EE0", "180f", "2a19")
	op.ID = 1
	p.HandleOperation(op)

	require.Equal(t, 1, sink.count())
	assert.Equal(t, "tele/blemux/SENSOR", sink.topics[0])
	assert.True(t, strings.HasPrefix(string(sink.payloads[0]), `{"BLEOperation":{"opid":1,`))
	assert.Equal(t, uint64(1), p.Published())
}

func TestPublisherSinkError(t *testing.T) {
	sink := &memorySink{err: errors.New("disk full")}
	p := NewPublisher(sink, "t", discardLogger())
	err := p.PublishOperation(ble.NewOperation("001A22092EE0", "180f", "2a19"))
	assert.Error(t, err)
	assert.Equal(t, uint64(1), p.Failed())
	assert.Zero(t, p.Published())
}

func TestLineSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewLineSink(&buf)
	require.NoError(t, s.Publish("topic", []byte(`{"a":1}`)))
	require.NoError(t, s.Publish("topic", []byte(`{"a":2}`)))
	assert.Equal(t, "topic {\"a\":1}\ntopic {\"a\":2}\n", buf.String())
	assert.NoError(t, s.Close())
}

func TestOpenSinkAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "records.log")

	for i := 0; i < 2; i++ {
		s, err := OpenSink(path)
		require.NoError(t, err)
		require.NoError(t, s.Publish("t", []byte("x")))
		require.NoError(t, s.Close())
	}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "t x\nt x\n", string(data))
}

func TestOpenSinkStdout(t *testing.T) {
	s, err := OpenSink("-")
	require.NoError(t, err)
	assert.NoError(t, s.Close(), "stdout is never closed")
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestAdvertPublisher(t *testing.T, opts AdvertOptions) (*AdvertPublisher, *memorySink, *clock) {
	t.Helper()
	sink := &memorySink{}
	p, err := NewAdvertPublisher(NewPublisher(sink, "t", discardLogger()), opts, discardLogger())
	require.NoError(t, err)
	c := &clock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	p.now = c.now
	return p, sink, c
}

func advert(mac string) *ble.Advertisement {
	a := ble.NewAdvertisement(mac, -70)
	a.Name = "ATC_800001"
	a.AddServiceData("181a", []byte{0x01, 0x02})
	return a
}

func TestAdvertPublisherRepeatInterval(t *testing.T) {
	opts := DefaultAdvertOptions()
	opts.RepeatInterval = time.Minute
	p, sink, c := newTestAdvertPublisher(t, opts)

	ok, err := p.Offer(advert("A4C138000001"))
	require.NoError(t, err)
	assert.True(t, ok)

	c.advance(10 * time.Second)
	ok, _ = p.Offer(advert("A4C138000001"))
	assert.False(t, ok, "repeat within the interval is suppressed")

	c.advance(time.Minute)
	ok, _ = p.Offer(advert("A4C138000001"))
	assert.True(t, ok)

	require.Equal(t, 2, sink.count())
	var rec AdvertRecord
	require.NoError(t, json.Unmarshal(sink.payloads[1], &rec))
	assert.Equal(t, 3, rec.Advert.Seen)
	assert.Equal(t, "ATC_800001", rec.Advert.Name)
	assert.Equal(t, []ServiceDataJSON{{UUID: "181a", Data: "0102"}}, rec.Advert.ServiceData)

	devices, suppressed, limited := p.Stats()
	assert.Equal(t, 1, devices)
	assert.Equal(t, uint64(1), suppressed)
	assert.Zero(t, limited)
}

func TestAdvertPublisherRateLimit(t *testing.T) {
	opts := AdvertOptions{PerSecond: 1, Burst: 2, SeenCacheSize: 16, RepeatInterval: time.Hour}
	p, sink, c := newTestAdvertPublisher(t, opts)

	macs := []string{"A4C138000001", "A4C138000002", "A4C138000003"}
	for _, mac := range macs {
		p.HandleAdvertisement(advert(mac))
	}
	assert.Equal(t, 2, sink.count(), "burst caps the first records")

	c.advance(time.Second)
	ok, err := p.Offer(advert(macs[2]))
	require.NoError(t, err)
	assert.True(t, ok, "a rate-limited device is tried again")

	_, _, limited := p.Stats()
	assert.Equal(t, uint64(1), limited)
}

func TestAdvertPublisherUnlimited(t *testing.T) {
	opts := AdvertOptions{PerSecond: 0, RepeatInterval: 0}
	p, sink, _ := newTestAdvertPublisher(t, opts)
	for i := 0; i < 50; i++ {
		p.HandleAdvertisement(advert("A4C138000001"))
	}
	assert.Equal(t, 50, sink.count())
}

func TestAdvertPublisherEvictsOldDevices(t *testing.T) {
	opts := AdvertOptions{SeenCacheSize: 2, RepeatInterval: time.Hour}
	p, sink, _ := newTestAdvertPublisher(t, opts)

	p.HandleAdvertisement(advert("A4C138000001"))
	p.HandleAdvertisement(advert("A4C138000002"))
	p.HandleAdvertisement(advert("A4C138000003"))
	// the first device fell out of the cache and is new again
	p.HandleAdvertisement(advert("A4C138000001"))

	assert.Equal(t, 4, sink.count())
	devices, _, _ := p.Stats()
	assert.Equal(t, 2, devices)
}
