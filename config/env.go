/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
)

var (
	errNoEnvArg     = errors.New("no env arg")
	ErrEmptyEnvFile = errors.New("environment secret file is empty")
	ErrUnsetEnvVar  = errors.New("environment variable is unset and has no default")
)

// varPattern matches ${NAME} and ${NAME:default} references anywhere in
// the raw config bytes, ahead of YAML parsing, so a value can reference
// an env var from inside a quoted scalar without any YAML-side support
// for it.
var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:([^}]*))?\}`)

func loadEnvFile(nm string) (r string, err error) {
	fin, err := os.Open(nm)
	if err != nil {
		return ``, err
	}
	defer fin.Close()
	s := bufio.NewScanner(fin)
	s.Scan()
	if err = s.Err(); err != nil {
		return ``, err
	}
	r = s.Text()
	if r == `` {
		return ``, ErrEmptyEnvFile
	}
	return r, nil
}

// loadEnv resolves nm from the environment, falling back to reading the
// first line of the file named by nm+"_FILE" (the Docker/Kubernetes
// secrets-file convention), the same two-step lookup the client config
// loader used for ingest authentication tokens.
func loadEnv(nm string) (s string, err error) {
	if s, ok := os.LookupEnv(nm); ok {
		return s, nil
	}
	if fp, ok := os.LookupEnv(nm + `_FILE`); ok {
		return loadEnvFile(fp)
	}
	return ``, errNoEnvArg
}

// interpolateEnv substitutes every ${NAME} or ${NAME:default} reference
// in raw. A reference with no default that resolves to no environment
// variable (and no NAME_FILE secret file) is a fatal configuration
// error: the bridge refuses to start with a silently-empty credential.
func interpolateEnv(raw []byte) ([]byte, error) {
	var firstErr error
	out := varPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		if firstErr != nil {
			return match
		}
		groups := varPattern.FindSubmatch(match)
		name := string(groups[1])
		hasDefault := len(groups[2]) > 0
		def := string(groups[3])

		v, err := loadEnv(name)
		if err != nil {
			if hasDefault {
				return []byte(def)
			}
			firstErr = fmt.Errorf("%w: %s", ErrUnsetEnvVar, name)
			return match
		}
		return []byte(v)
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return out, nil
}
