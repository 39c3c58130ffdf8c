// Package builtin registers the reference devices and receivers with the
// global plugin registry. Import it for its side effects.
package builtin

import (
	_ "sensorhub/internal/devices/daylight"
	_ "sensorhub/internal/devices/dev4b"
	_ "sensorhub/internal/receivers/console"
	_ "sensorhub/internal/receivers/kafka"
	_ "sensorhub/internal/receivers/logfile"
	_ "sensorhub/internal/receivers/mqtt"
	_ "sensorhub/internal/receivers/plot"
	_ "sensorhub/internal/receivers/redis"
	_ "sensorhub/internal/receivers/websocket"
)
