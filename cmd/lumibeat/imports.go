package main

// This file imports all backend packages to ensure their init()
// functions are called and device kinds are registered with the
// factory. Add new backend package imports here as drivers are created.

import (
	_ "github.com/lumibeat/lumibeat/internal/device/hue"
	_ "github.com/lumibeat/lumibeat/internal/device/kasa"
	_ "github.com/lumibeat/lumibeat/internal/device/magichome"
)
