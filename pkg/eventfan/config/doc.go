/*
Package config loads eventfan's process configuration.

# Layers

Settings are resolved in order, later layers winning:

  - Defaults(): built-in values matching each component's DefaultConfig
  - a YAML or JSON file (Load's path argument, optional)
  - environment variables prefixed EVENTFAN_, nested by section:

	EVENTFAN_POOL_CORE_POOL_SIZE=8
	EVENTFAN_POOL_POLICY=abort
	EVENTFAN_LOGGING_FORMAT=json
	EVENTFAN_HTTP_ADDR=:9090

The merged result is validated before Load returns.

# Listener Options

The listeners section is free-form and read through Options, which returns
defaults for missing keys or mismatched types:

	listeners:
	  email:
	    delay: 500ms
	  inventory:
	    delay: 300

	delay := settings.ListenerOptions("email").Duration("delay", time.Second)

Duration accepts Go duration strings or bare milliseconds.
*/
package config
