//go:build mage

// Copyright 2021-2022
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"
)

const (
	binaryName   = "pvbt"
	modulePath   = "github.com/penny-vault/pvbt"
	coverProfile = "coverage.out"
)

var goexe = "go"

func init() {
	if exe := os.Getenv("GOEXE"); exe != "" {
		goexe = exe
	}
}

// Build the pvbt binary with version information baked in
func Build() error {
	fmt.Println("Building...")
	return sh.RunWith(buildEnv(), goexe, append([]string{"build", "-o", binaryName, "-ldflags", ldflags(), "-tags", buildTags()}, buildFlags()...)...)
}

// Clean removes the binary and coverage output
func Clean() {
	fmt.Println("Cleaning...")
	for _, fn := range []string{binaryName, coverProfile} {
		if err := os.Remove(fn); err != nil && !errors.Is(err, os.ErrNotExist) {
			fmt.Printf("could not remove %s: %v\n", fn, err)
		}
	}
}

// Check runs formatting, vet and the race-enabled test suites
func Check() {
	mg.SerialDeps(Fmt, Vet, TestRace)
}

// Test runs every ginkgo suite
func Test() error {
	fmt.Println("Go Test")
	return sh.RunV(goexe, "test", "-tags", buildTags(), "./...")
}

// TestRace runs every ginkgo suite with the race detector; the price cache
// and fetch pool are concurrent
func TestRace() error {
	fmt.Println("Go Test Race")
	return sh.RunV(goexe, "test", "-race", "-tags", buildTags(), "./...")
}

// Cover writes a single coverage profile across all packages and opens it
func Cover() error {
	fmt.Println("Go Cover")
	if err := sh.RunV(goexe, "test", "-coverpkg="+modulePath+"/...", "-coverprofile="+coverProfile, "./..."); err != nil {
		return err
	}
	return sh.Run(goexe, "tool", "cover", "-html="+coverProfile)
}

// Fmt fails when any package holds files gofmt would rewrite
func Fmt() error {
	fmt.Println("Go Format")
	dirs, err := packageDirs()
	if err != nil {
		return err
	}

	// gofmt -l exits zero even when it lists files
	out, err := sh.Output("gofmt", append([]string{"-l"}, dirs...)...)
	if err != nil {
		return err
	}
	if out != "" {
		fmt.Println("The following files are not gofmt'ed:")
		fmt.Println(out)
		return errors.New("improperly formatted go files")
	}
	return nil
}

// Vet runs go vet over the module
func Vet() error {
	fmt.Println("Go Vet")
	if err := sh.Run(goexe, "vet", "./..."); err != nil {
		return fmt.Errorf("error running go vet: %w", err)
	}
	return nil
}

// Serve builds and starts the API with human readable logs
func Serve() error {
	mg.Deps(Build)
	return sh.RunV("./"+binaryName, "serve", "--log-pretty", "--log-level", "info")
}

// Helpers

// ldflags is expanded by sh.RunWith against buildEnv
func ldflags() string {
	return "-X " + modulePath + "/common.commitHash=$COMMIT_HASH -X " + modulePath + "/common.buildDate=$BUILD_DATE"
}

func gitHash() string {
	hash, _ := sh.Output("git", "rev-parse", "--short", "HEAD")
	return hash
}

func buildEnv() map[string]string {
	hash := os.Getenv("COMMIT_HASH")
	if hash == "" {
		hash = gitHash()
	}
	return map[string]string{
		"COMMIT_HASH": hash,
		"BUILD_DATE":  time.Now().Format("2006-01-02T15:04:05Z0700"),
	}
}

func buildFlags() []string {
	if runtime.GOOS == "windows" {
		return []string{"-buildmode", "exe", "."}
	}
	return []string{"."}
}

func buildTags() string {
	if tags := os.Getenv("PVBT_BUILD_TAGS"); tags != "" {
		return tags
	}
	return "none"
}

// packageDirs lists the module's package directories relative to the root
func packageDirs() ([]string, error) {
	out, err := sh.Output(goexe, "list", "-f", "{{.Dir}}", "./...")
	if err != nil {
		return nil, err
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	dirs := strings.Split(out, "\n")
	for idx := range dirs {
		dirs[idx] = "." + strings.TrimPrefix(dirs[idx], wd)
	}
	return dirs, nil
}
