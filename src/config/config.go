package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stolostron/console-sub025/src/assert"
)

type Config struct {
	data                   map[string]*configValue
	dataLock               sync.RWMutex
	onChangedCallbacks     []onChangeCallbackConfig
	onChangedCallbacksLock sync.RWMutex
}

type configValue struct {
	value       *string
	declaration ConfigDeclaration
	getCounter  atomic.Uint64
	setCounter  atomic.Uint64
}

type onChangeCallbackConfig struct {
	onKeys   []string
	callback func(key string, value string, isSecret bool)
}

func NewConfig() *Config {
	return &Config{
		data:                   make(map[string]*configValue),
		dataLock:               sync.RWMutex{},
		onChangedCallbacks:     []onChangeCallbackConfig{},
		onChangedCallbacksLock: sync.RWMutex{},
	}
}

func (c *Config) Validate() error {
	c.dataLock.RLock()
	defer c.dataLock.RUnlock()

	errs := []error{}
	keys := make([]string, 0, len(c.data))
	for key := range c.data {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		cv := c.data[key]
		if cv.value == nil {
			errs = append(errs, fmt.Errorf("value for key '%s' is not initialized", key))
			continue
		}
		if cv.declaration.Validate != nil {
			err := cv.declaration.Validate(*cv.value)
			if err != nil {
				errs = append(errs, fmt.Errorf("validation for key '%s' failed: %w", key, err))
			}
		}
	}

	return errors.Join(errs...)
}

func (c *Config) Declare(opts ConfigDeclaration) {
	func() {
		c.dataLock.Lock()
		defer c.dataLock.Unlock()

		cv := configValue{
			value:       nil,
			declaration: opts,
		}

		assert.Assert(opts.Key != "", fmt.Errorf("'Key' in 'ConfigDeclaration' cant be '\"\"': %#v", opts))
		assert.Assert(!strings.Contains(opts.Key, "\n"), fmt.Errorf("'Key' in 'ConfigDeclaration' may not contain newlines: %#v", opts))
		_, ok := c.data[opts.Key]
		assert.Assert(!ok, fmt.Errorf("a declaration with key '%s' already exists", opts.Key))

		if opts.Description != nil {
			assert.Assert(!strings.Contains(*opts.Description, "\n"), fmt.Errorf("'Description' in 'ConfigDeclaration' may not contain newlines: %#v", opts))
		}

		if opts.DefaultValue != nil {
			cv.value = opts.DefaultValue
			cv.setCounter.Add(1)
		}

		c.data[opts.Key] = &cv
	}()
	if opts.DefaultValue != nil {
		c.runOnChangedCallbacks(opts.Key, *opts.DefaultValue, opts.IsSecret)
	}
}

func (c *Config) Get(key string) string {
	value, err := c.TryGet(key)
	if err != nil {
		panic(err)
	}

	return value
}

func (c *Config) TryGet(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("key cant be empty")
	}

	c.dataLock.RLock()
	defer c.dataLock.RUnlock()

	cv, ok := c.data[key]
	if !ok {
		return "", fmt.Errorf("undeclared config value '%s' cant be accessed", key)
	}
	if cv.value == nil {
		return "", fmt.Errorf("uninitialized config value '%s' cant be accessed", key)
	}

	cv.getCounter.Add(1)

	return *cv.value, nil
}

// Same as `Get()` but parsed with `time.ParseDuration`. Panics on invalid values,
// declarations are expected to validate durations up front.
func (c *Config) GetDuration(key string) time.Duration {
	value := c.Get(key)
	duration, err := time.ParseDuration(value)
	assert.Assert(err == nil, fmt.Errorf("config value '%s' is not a duration: %s", key, value))
	return duration
}

// Same as `Get()` but parsed with `strconv.ParseBool`. Unparsable values are false.
func (c *Config) GetBool(key string) bool {
	value, err := strconv.ParseBool(c.Get(key))
	if err != nil {
		return false
	}
	return value
}

func (c *Config) IsSet(key string) bool {
	if key == "" {
		return false
	}

	c.dataLock.RLock()
	defer c.dataLock.RUnlock()

	cv, ok := c.data[key]
	if !ok {
		return false
	}

	return cv.value != nil
}

func (c *Config) Set(key string, value string) {
	err := c.TrySet(key, value)
	if err != nil {
		panic(err)
	}
}

func (c *Config) TrySet(key string, value string) error {
	isSecret, err := c.set(key, value)
	if err != nil {
		return err
	}
	c.runOnChangedCallbacks(key, value, isSecret)

	return nil
}

func (c *Config) set(key string, value string) (bool, error) {
	c.dataLock.Lock()
	defer c.dataLock.Unlock()

	cv, ok := c.data[key]
	if !ok {
		return false, fmt.Errorf("key '%s' has to be declared before a value can be set", key)
	}

	if cv.declaration.ReadOnly {
		return false, fmt.Errorf("tried to set config value for read-only key: %s", key)
	}

	if cv.declaration.Validate != nil {
		err := cv.declaration.Validate(value)
		if err != nil {
			return false, fmt.Errorf("validation failed for '%s' while validating value provided by `Set()`: %w", key, err)
		}
	}

	cv.value = &value
	cv.setCounter.Add(1)

	return cv.declaration.IsSecret, nil
}

func (c *Config) runOnChangedCallbacks(key string, value string, isSecret bool) {
	c.onChangedCallbacksLock.RLock()
	defer c.onChangedCallbacksLock.RUnlock()

	for _, callbackConfig := range c.onChangedCallbacks {
		// trigger if `onKeys` is empty or contains the changed key
		if len(callbackConfig.onKeys) == 0 || slices.Contains(callbackConfig.onKeys, key) {
			callbackConfig.callback(key, value, isSecret)
		}
	}
}

func (c *Config) OnChanged(keys []string, callback func(key string, value string, isSecret bool)) {
	assert.Assert(callback != nil)
	c.onChangedCallbacksLock.Lock()
	defer c.onChangedCallbacksLock.Unlock()

	if keys == nil {
		keys = []string{}
	}

	c.onChangedCallbacks = append(c.onChangedCallbacks, onChangeCallbackConfig{
		onKeys:   keys,
		callback: callback,
	})
}

type Usage struct {
	Key         string
	Initialized bool
	SetCalls    uint64
	GetCalls    uint64
}

func (c *Config) GetUsage() []Usage {
	c.dataLock.RLock()
	defer c.dataLock.RUnlock()

	usages := []Usage{}
	for key, value := range c.data {
		usages = append(usages, Usage{
			Key:         key,
			Initialized: value.value != nil,
			SetCalls:    value.setCounter.Load(),
			GetCalls:    value.getCounter.Load(),
		})
	}

	sort.Slice(usages, func(i, j int) bool {
		return usages[i].Key < usages[j].Key
	})

	return usages
}

// Load ENV variables for all declared keys. The key itself wins over its aliases.
func (c *Config) LoadEnvs() error {
	changed := []ConfigVariable{}
	errs := []error{}

	func() {
		c.dataLock.Lock()
		defer c.dataLock.Unlock()

		for key, cv := range c.data {
			envNames := append([]string{key}, cv.declaration.Envs...)
			for _, envName := range envNames {
				value, ok := os.LookupEnv(envName)
				if !ok {
					continue
				}
				if cv.declaration.Validate != nil {
					err := cv.declaration.Validate(value)
					if err != nil {
						errs = append(errs, fmt.Errorf("validation failed for '%s' while parsing env '%s': %w", key, envName, err))
						break
					}
				}
				cv.value = &value
				cv.setCounter.Add(1)
				changed = append(changed, ConfigVariable{Key: key, Value: value, IsSecret: cv.declaration.IsSecret})
				break
			}
		}
	}()

	for _, variable := range changed {
		c.runOnChangedCallbacks(variable.Key, variable.Value, variable.IsSecret)
	}

	return errors.Join(errs...)
}

func (c *Config) AsEnvs() string {
	c.dataLock.RLock()
	defer c.dataLock.RUnlock()

	keys := []string{}
	for key := range c.data {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	data := ""
	for _, key := range keys {
		cv := c.data[key]

		data = data + "## Key: " + cv.declaration.Key + "\n"
		if cv.declaration.Description != nil {
			data = data + "## Description: " + *cv.declaration.Description + "\n"
		}

		if cv.declaration.DefaultValue != nil {
			defaultValue := strings.ReplaceAll(*cv.declaration.DefaultValue, "\n", "\\n")
			if defaultValue == "" {
				defaultValue = `""`
			}
			data = data + "## Default: " + defaultValue + "\n"
		}

		data = data + "## Has Validation: " + strconv.FormatBool(cv.declaration.Validate != nil) + "\n"

		if cv.declaration.Envs != nil {
			data = data + fmt.Sprintf("## Envs: %#v", cv.declaration.Envs) + "\n"
		} else {
			data = data + "## Envs: []string{}\n"
		}

		value := ""
		if cv.value != nil {
			value = *cv.value
		}
		if cv.declaration.IsSecret && value != "" {
			value = "***"
		}
		data = data + key + "=" + strings.ReplaceAll(value, "\n", "\\n") + "\n\n"
	}

	return strings.TrimSpace(data) + "\n"
}

func (c *Config) GetAll() []ConfigVariable {
	c.dataLock.RLock()
	defer c.dataLock.RUnlock()

	configVariables := []ConfigVariable{}
	for key, cv := range c.data {
		if cv.value != nil {
			configVariables = append(configVariables, ConfigVariable{
				Key:      key,
				Value:    *cv.value,
				IsSecret: cv.declaration.IsSecret,
			})
		}
	}
	return configVariables
}
