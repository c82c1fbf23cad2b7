// Copyright 2025 The ulua Authors
// SPDX-License-Identifier: MIT

// Package useragent contains the User-Agent HTTP header constant for ulua-stress.
package useragent

// String is the user agent string used for making HTTP requests in ulua-stress.
const String = "ulua-stress"
