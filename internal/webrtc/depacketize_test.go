package webrtc

import (
	"bytes"
	"testing"
)

type rtpPayload struct {
	seq     uint16
	payload []byte
}

func TestDepacketize(t *testing.T) {
	// FU indicator 0x7C is NRI=3 | type 28; FU headers carry type 5 (IDR)
	// with the start (0x80) and end (0x40) bits.
	fuStart := []byte{0x7C, 0x85, 0x01, 0x02}
	fuMid := []byte{0x7C, 0x05, 0x03, 0x04}
	fuEnd := []byte{0x7C, 0x45, 0x05, 0x06}
	idr := []byte{0x65, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06}

	cases := []struct {
		name    string
		packets []rtpPayload
		want    [][]byte
	}{
		{
			name:    "single NAL",
			packets: []rtpPayload{{100, []byte{0x65, 0x01, 0x02, 0x03}}},
			want:    [][]byte{{0x65, 0x01, 0x02, 0x03}},
		},
		{
			name:    "STAP-A with SPS and PPS",
			packets: []rtpPayload{{100, []byte{0x18, 0x00, 0x03, 0x67, 0xAA, 0xBB, 0x00, 0x02, 0x68, 0xCC}}},
			want:    [][]byte{{0x67, 0xAA, 0xBB}, {0x68, 0xCC}},
		},
		{
			name:    "STAP-A stops at zero-size NAL",
			packets: []rtpPayload{{100, []byte{0x18, 0x00, 0x00}}},
		},
		{
			name:    "STAP-A truncated",
			packets: []rtpPayload{{100, []byte{0x18, 0x00, 0x09, 0x67}}},
		},
		{
			name:    "FU-A reassembly",
			packets: []rtpPayload{{100, fuStart}, {101, fuMid}, {102, fuEnd}},
			want:    [][]byte{idr},
		},
		{
			name:    "FU-A across sequence wraparound",
			packets: []rtpPayload{{65534, fuStart}, {65535, fuMid}, {0, fuEnd}},
			want:    [][]byte{idr},
		},
		{
			name:    "FU-A drops on sequence gap",
			packets: []rtpPayload{{100, fuStart}, {102, fuMid}, {103, fuEnd}},
		},
		{
			name:    "FU-A orphan end fragment",
			packets: []rtpPayload{{101, fuEnd}},
		},
		{
			name:    "single NAL abandons partial fragment",
			packets: []rtpPayload{{100, fuStart}, {101, []byte{0x41, 0x09}}, {102, fuEnd}},
			want:    [][]byte{{0x41, 0x09}},
		},
		{
			name:    "empty payload",
			packets: []rtpPayload{{0, nil}, {1, []byte{}}},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := NewH264Depacketizer()
			var got [][]byte
			for _, p := range tc.packets {
				got = append(got, d.Depacketize(p.seq, p.payload)...)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("expected %d NALUs, got %d (%v)", len(tc.want), len(got), got)
			}
			for i := range got {
				if !bytes.Equal(got[i], tc.want[i]) {
					t.Errorf("NALU %d: expected %v, got %v", i, tc.want[i], got[i])
				}
			}
		})
	}
}

func TestDepacketize_InstanceIsolation(t *testing.T) {
	d1 := NewH264Depacketizer()
	d2 := NewH264Depacketizer()

	d1.Depacketize(100, []byte{0x7C, 0x85, 0x01, 0x02})

	endPkt := []byte{0x7C, 0x45, 0x03, 0x04}
	if nalus := d2.Depacketize(101, endPkt); nalus != nil {
		t.Fatalf("expected no NALU from a fresh depacketizer, got %d", len(nalus))
	}
	if nalus := d1.Depacketize(101, endPkt); len(nalus) != 1 {
		t.Fatalf("expected d1 to complete its fragment, got %d NALUs", len(nalus))
	}
}
