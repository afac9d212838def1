/*************************************************************************
 * Copyright 2018 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"fmt"
	"io"
	"time"

	"github.com/gravwell/mqtt-influxdb-bridge/ingest/log"
)

const (
	majorVersion = 1
	minorVersion = 0
	pointVersion = 0
)

var buildDate = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func printVersion(wtr io.Writer) {
	fmt.Fprintf(wtr, "Version:\t%d.%d.%d\n", majorVersion, minorVersion, pointVersion)
	fmt.Fprintf(wtr, "BuildDate:\t%s\n", buildDate.Format(`2006-01-02 15:04:05`))
	log.PrintOSInfo(wtr)
}
