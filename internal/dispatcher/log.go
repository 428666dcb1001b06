package dispatcher

import "log"

func logWarn(err error) {
	log.Printf("[DFO] WARN %v", err)
}

func logInfo(msg string) {
	log.Printf("[DFO] %s", msg)
}
