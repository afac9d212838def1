/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// AppendDefaultPort appends defPort to bstr if bstr has no port of its
// own, the way the client config used this to backfill a default
// ingest listener port.
func AppendDefaultPort(bstr string, defPort uint16) string {
	if _, _, err := net.SplitHostPort(bstr); err != nil {
		if strings.HasSuffix(err.Error(), `missing port in address`) {
			return fmt.Sprintf("%s:%d", bstr, defPort)
		}
	}
	return bstr
}

type multSuff struct {
	mult   int64
	suffix string
}

var byteSuffix = []multSuff{
	{mult: 1024, suffix: `kb`},
	{mult: 1024, suffix: `k`},
	{mult: 1024 * 1024, suffix: `mb`},
	{mult: 1024 * 1024, suffix: `m`},
	{mult: 1024 * 1024 * 1024, suffix: `gb`},
	{mult: 1024 * 1024 * 1024, suffix: `g`},
}

// ParseRate parses a byte-size string like "1MB" or "512k" into a byte
// count, the same suffix table the ingest side uses for throttle rates,
// repurposed here for influxdb.max_batch_bytes.
func ParseRate(s string) (bytes int64, err error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == `` {
		return 0, errors.New("empty size string")
	}
	for _, v := range byteSuffix {
		if strings.HasSuffix(s, v.suffix) {
			num := strings.TrimSuffix(s, v.suffix)
			n, err := strconv.ParseInt(num, 10, 64)
			if err != nil {
				return 0, err
			}
			return n * v.mult, nil
		}
	}
	return strconv.ParseInt(s, 10, 64)
}

func ParseInt64(v string) (i int64, err error) {
	if strings.HasPrefix(v, "0x") {
		return strconv.ParseInt(strings.TrimPrefix(v, "0x"), 16, 64)
	}
	return strconv.ParseInt(v, 10, 64)
}

func ParseUint64(v string) (i uint64, err error) {
	if strings.HasPrefix(v, "0x") {
		return strconv.ParseUint(strings.TrimPrefix(v, "0x"), 16, 64)
	}
	return strconv.ParseUint(v, 10, 64)
}
