package wmo

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/afd-project/afd-core/internal/protocol"
)

func TestFrameHasTenByteIndicatorAndTrailer(t *testing.T) {
	body := []byte("TTAA00 EGRR\nsome data")
	frame := Frame(protocol.BulletinAN, len(body), nil, body)

	indicator := string(frame[:10])
	assert.Equal(t, "AN", indicator[8:10])
	assert.Len(t, indicator, 10)
	assert.Equal(t, trailer, string(frame[len(frame)-len(trailer):]))
}

func TestFrameIncludesHeaderBeforeBody(t *testing.T) {
	header := BulletinHeader("TTAA00.bul", 7)
	body := []byte("payload")
	frame := Frame(protocol.BulletinBI, len(header)+len(body), header, body)

	rest := frame[10:]
	assert.Equal(t, append(append([]byte{}, header...), body...), rest[:len(header)+len(body)])
}

func TestBulletinHeaderUppercasesAndPadsCounter(t *testing.T) {
	h := BulletinHeader("ttaa00.bul", 7)
	assert.Contains(t, string(h), "TTAA00 007")
	assert.Contains(t, string(h), headerTerminator)
}

func TestBulletinHeaderWrapsCounterAtThreeDigits(t *testing.T) {
	h := BulletinHeader("area.txt", 1234)
	assert.Contains(t, string(h), " 234"+headerTerminator)
}
