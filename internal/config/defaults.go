package config

import "runtime"

func defaultWorkerCount() int {
	return 2 * runtime.NumCPU()
}
