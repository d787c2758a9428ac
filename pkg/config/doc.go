/*
Package config loads trail's YAML configuration.

Every field has a default matching the production pipeline (25s throttle, 50m
accuracy, 50 m/s plausibility ceiling, 500-entry queue, batches of 25, 30m
fatal report window). A file only needs to set what differs, typically just
the API base URL:

	api:
	  base_url: https://project.example.co
	sync:
	  interval: 2m
	log:
	  level: debug

Durations use Go syntax ("25s", "30m"). Command-line flags override the file.
*/
package config
