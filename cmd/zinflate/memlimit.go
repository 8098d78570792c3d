package main

import (
	"math"
	"os"
	"strconv"
)

// memLimitBytes bounds the process's soft memory target (via
// debug.SetMemoryLimit) and sizes the decode cache's hot tier. ZINFLATE_MEM_GB
// takes a number of gigabytes; it falls back to 1GiB.
var memLimitBytes int64 = calcMemLimit()

func calcMemLimit() int64 {
	if e := os.Getenv("ZINFLATE_MEM_GB"); e != "" {
		f, err := strconv.ParseFloat(e, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
			panic("malformed ZINFLATE_MEM_GB environment variable, should be a number of gigabytes: " + e)
		}
		return int64(f * 1024 * 1024 * 1024)
	}
	return 1024 * 1024 * 1024 // fall back on 1GiB
}
