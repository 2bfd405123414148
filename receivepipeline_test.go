// SPDX-License-Identifier: GPL-3.0-or-later

package chancore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReceivePipelineOnReceiveRequestsDecode(t *testing.T) {
	p := newReceivePipeline(FramingSingle, DefaultLogger())
	enc := &fakeDecodingOnlyEncoding{}
	handle, err := p.onReceive("L1", EncodingParams{EncodingID: "enc"}, []byte("raw"), map[string]Encoding{"enc": enc})
	require.NoError(t, err)
	require.Len(t, enc.decodeCalls, 1)
	assert.Equal(t, handle, enc.decodeCalls[0].handle)
	assert.Equal(t, []byte("raw"), enc.decodeCalls[0].bytes)
}

func TestReceivePipelineOnReceiveUnknownEncoding(t *testing.T) {
	p := newReceivePipeline(FramingSingle, DefaultLogger())
	_, err := p.onReceive("L1", EncodingParams{EncodingID: "missing"}, nil, map[string]Encoding{})
	require.Error(t, err)
	got, ok := AsError(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidArgument, got.Kind)
}

func TestReceivePipelineSingleModeDelivery(t *testing.T) {
	p := newReceivePipeline(FramingSingle, DefaultLogger())
	enc := &fakeDecodingOnlyEncoding{}
	handle, err := p.onReceive("L1", EncodingParams{EncodingID: "enc"}, []byte("raw"), map[string]Encoding{"enc": enc})
	require.NoError(t, err)

	pkgs, linkID, found := p.onBytesDecoded(handle, []byte("payload"), true)
	require.True(t, found)
	assert.Equal(t, "L1", linkID)
	assert.Equal(t, [][]byte{[]byte("payload")}, pkgs)
}

func TestReceivePipelineBatchModeDelivery(t *testing.T) {
	p := newReceivePipeline(FramingBatch, DefaultLogger())
	enc := &fakeDecodingOnlyEncoding{}
	handle, _ := p.onReceive("L1", EncodingParams{EncodingID: "enc"}, nil, map[string]Encoding{"enc": enc})

	buf := EncodeBatch([][]byte{[]byte("one"), []byte("two")})
	pkgs, _, found := p.onBytesDecoded(handle, buf, true)
	require.True(t, found)
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, pkgs)
}

func TestReceivePipelineFragmentModeReassembly(t *testing.T) {
	p := newReceivePipeline(FramingFragmentSingleProducer, DefaultLogger())
	enc := &fakeDecodingOnlyEncoding{}

	h1, _ := p.onReceive("L1", EncodingParams{EncodingID: "enc"}, nil, map[string]Encoding{"enc": enc})
	frame1 := EncodeFragmentFrame(FramingFragmentSingleProducer, FragmentFrame{
		FragmentID: 0, ContinueNext: true, Records: [][]byte{[]byte("hel")},
	})
	pkgs, _, found := p.onBytesDecoded(h1, frame1, true)
	require.True(t, found)
	assert.Empty(t, pkgs)

	h2, _ := p.onReceive("L1", EncodingParams{EncodingID: "enc"}, nil, map[string]Encoding{"enc": enc})
	frame2 := EncodeFragmentFrame(FramingFragmentSingleProducer, FragmentFrame{
		FragmentID: 1, ContinueLast: true, Records: [][]byte{[]byte("lo")},
	})
	pkgs, _, found = p.onBytesDecoded(h2, frame2, true)
	require.True(t, found)
	assert.Equal(t, [][]byte{[]byte("hello")}, pkgs)
}

func TestReceivePipelineOnBytesDecodedUnknownHandle(t *testing.T) {
	p := newReceivePipeline(FramingSingle, DefaultLogger())
	_, _, found := p.onBytesDecoded(999, nil, true)
	assert.False(t, found)
}

func TestReceivePipelineForgetLinkResetsReassembler(t *testing.T) {
	p := newReceivePipeline(FramingFragmentSingleProducer, DefaultLogger())
	enc := &fakeDecodingOnlyEncoding{}

	h1, _ := p.onReceive("L1", EncodingParams{EncodingID: "enc"}, nil, map[string]Encoding{"enc": enc})
	frame1 := EncodeFragmentFrame(FramingFragmentSingleProducer, FragmentFrame{
		FragmentID: 0, ContinueNext: true, Records: [][]byte{[]byte("partial")},
	})
	p.onBytesDecoded(h1, frame1, true)

	p.forgetLink("L1")

	h2, _ := p.onReceive("L1", EncodingParams{EncodingID: "enc"}, nil, map[string]Encoding{"enc": enc})
	frame2 := EncodeFragmentFrame(FramingFragmentSingleProducer, FragmentFrame{
		FragmentID: 0, Records: [][]byte{[]byte("fresh")},
	})
	pkgs, _, _ := p.onBytesDecoded(h2, frame2, true)
	assert.Equal(t, [][]byte{[]byte("fresh")}, pkgs)
}

// fakeDecodingOnlyEncoding is a minimal [Encoding] fake exercising only
// the receive-side DecodeBytes request path.
type fakeDecodingOnlyEncoding struct {
	decodeCalls []struct {
		handle DecodeHandle
		bytes  []byte
	}
}

func (e *fakeDecodingOnlyEncoding) GetEncodingProperties() EncodingProperties { return EncodingProperties{} }
func (e *fakeDecodingOnlyEncoding) GetEncodingPropertiesForParameters(EncodingParams) EncodingPropertiesForParameters {
	return EncodingPropertiesForParameters{}
}
func (e *fakeDecodingOnlyEncoding) EncodeBytes(EncodeHandle, EncodingParams, []byte, bool) error {
	return nil
}
func (e *fakeDecodingOnlyEncoding) DecodeBytes(handle DecodeHandle, params EncodingParams, bytes []byte) error {
	e.decodeCalls = append(e.decodeCalls, struct {
		handle DecodeHandle
		bytes  []byte
	}{handle, bytes})
	return nil
}
func (e *fakeDecodingOnlyEncoding) OnUserInputReceived(string, string) {}

var _ Encoding = (*fakeDecodingOnlyEncoding)(nil)
