// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

package sap

import (
	"testing"

	"github.com/pion/sdp/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/silentwave/rtprecv/rtpcodec"
)

func TestOriginKeyFormatsOriginFields(t *testing.T) {
	desc := sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "alice",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: "192.0.2.10",
		},
	}
	assert.Equal(t, "alice 1 1 IN IP4 192.0.2.10", OriginKey(desc))
}

func audioMedia(formats []string, rtpmap string) *sdp.MediaDescription {
	md := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: 5004},
			Protos:  []string{"RTP", "AVP"},
			Formats: formats,
		},
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "239.1.1.1"},
		},
	}
	if rtpmap != "" {
		md.Attributes = append(md.Attributes, sdp.Attribute{Key: "rtpmap", Value: rtpmap})
	}
	return md
}

func TestExtractStreamInfoWithRtpmap(t *testing.T) {
	desc := sdp.SessionDescription{
		SessionName: "Test Stream",
		MediaDescriptions: []*sdp.MediaDescription{
			audioMedia([]string{"97"}, "97 L16/48000/2"),
		},
	}

	info, err := ExtractStreamInfo(desc)
	require.NoError(t, err)
	assert.Equal(t, "239.1.1.1", info.GroupAddress)
	assert.Equal(t, 5004, info.Port)
	assert.Equal(t, uint8(97), info.PayloadType)
	assert.Equal(t, rtpcodec.SampleSpec{RateHz: 48000, Channels: 2, Format: rtpcodec.FormatL16}, info.SampleSpec)
}

func TestExtractStreamInfoStaticPayloadType(t *testing.T) {
	desc := sdp.SessionDescription{
		MediaDescriptions: []*sdp.MediaDescription{
			audioMedia([]string{"11"}, ""),
		},
	}

	info, err := ExtractStreamInfo(desc)
	require.NoError(t, err)
	assert.Equal(t, rtpcodec.SampleSpec{RateHz: 44100, Channels: 1, Format: rtpcodec.FormatL16}, info.SampleSpec)
}

func TestExtractStreamInfoFallsBackToSessionLevelConnection(t *testing.T) {
	desc := sdp.SessionDescription{
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: "239.9.9.9"},
		},
		MediaDescriptions: []*sdp.MediaDescription{
			{
				MediaName: sdp.MediaName{
					Media:   "audio",
					Port:    sdp.RangedPort{Value: 6000},
					Formats: []string{"0"},
				},
			},
		},
	}

	info, err := ExtractStreamInfo(desc)
	require.NoError(t, err)
	assert.Equal(t, "239.9.9.9", info.GroupAddress)
}

func TestExtractStreamInfoNoAudioMediaIsError(t *testing.T) {
	desc := sdp.SessionDescription{
		MediaDescriptions: []*sdp.MediaDescription{
			{MediaName: sdp.MediaName{Media: "video", Formats: []string{"96"}}},
		},
	}
	_, err := ExtractStreamInfo(desc)
	assert.Error(t, err)
}
