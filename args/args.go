// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (C) 2024 rtprecv contributors

// Package args parses the module's key=value load arguments, in the
// style of PulseAudio module arguments (e.g. "sink=alsa_output;sap_address=224.0.0.56").
//
// No ecosystem dependency in the corpus targets this micro-format, so
// this is a small hand-rolled splitter over the standard library; see
// DESIGN.md for the justification.
package args

import (
	"fmt"
	"net"
	"strings"
)

// DefaultSAPAddress is the well-known SAP multicast group (IPv4).
const DefaultSAPAddress = "224.0.0.56"

// SAPPort is the well-known SAP announcement port.
const SAPPort = 9875

// ConfigError is returned for bad module arguments or an invalid SAP
// address; fatal at module load, per the error handling design.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "args: " + e.Reason }

// Config is the module's parsed load arguments.
type Config struct {
	// Sink is the name of the host audio sink to attach playback to.
	// Required, no default.
	Sink string
	// SAPAddress is the multicast group SAP announcements arrive on.
	SAPAddress net.IP
}

// Parse splits a "key=value;key=value" argument string and validates it.
func Parse(raw string) (Config, error) {
	values := map[string]string{}
	if strings.TrimSpace(raw) != "" {
		for _, pair := range strings.Split(raw, ";") {
			pair = strings.TrimSpace(pair)
			if pair == "" {
				continue
			}
			kv := strings.SplitN(pair, "=", 2)
			if len(kv) != 2 {
				return Config{}, &ConfigError{Reason: fmt.Sprintf("malformed argument %q", pair)}
			}
			values[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
		}
	}

	sinkName, ok := values["sink"]
	if !ok || sinkName == "" {
		return Config{}, &ConfigError{Reason: "sink argument is required"}
	}

	sapAddrStr := values["sap_address"]
	if sapAddrStr == "" {
		sapAddrStr = DefaultSAPAddress
	}
	sapIP := net.ParseIP(sapAddrStr)
	if sapIP == nil || !sapIP.IsMulticast() {
		return Config{}, &ConfigError{Reason: fmt.Sprintf("sap_address %q is not a valid multicast address", sapAddrStr)}
	}

	return Config{Sink: sinkName, SAPAddress: sapIP}, nil
}
