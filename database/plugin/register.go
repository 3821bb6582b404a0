// Copyright 2025 Blink Labs Software
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

package plugin

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/spf13/pflag"
)

type PluginType int

const (
	PluginTypeBlob PluginType = iota + 1
	PluginTypeMetadata
)

func PluginTypeName(pluginType PluginType) string {
	switch pluginType {
	case PluginTypeBlob:
		return "blob"
	case PluginTypeMetadata:
		return "metadata"
	default:
		return ""
	}
}

type PluginOptionType int

const (
	PluginOptionTypeString PluginOptionType = iota + 1
	PluginOptionTypeBool
	PluginOptionTypeInt
	PluginOptionTypeUint
)

type PluginOption struct {
	DefaultValue any
	Dest         any
	Name         string
	Description  string
	Type         PluginOptionType
}

type PluginEntry struct {
	NewFromOptionsFunc func(PluginContext) Plugin
	Name               string
	Description        string
	Options            []PluginOption
	Type               PluginType
}

var (
	pluginEntries   []PluginEntry
	pluginEntriesMu sync.RWMutex
)

// Register adds a plugin to the registry. Plugins call this from init()
func Register(pluginEntry PluginEntry) {
	pluginEntriesMu.Lock()
	defer pluginEntriesMu.Unlock()
	pluginEntries = append(pluginEntries, pluginEntry)
}

// GetPlugins returns the registered plugins of the given type
func GetPlugins(pluginType PluginType) []PluginEntry {
	pluginEntriesMu.RLock()
	defer pluginEntriesMu.RUnlock()
	ret := []PluginEntry{}
	for _, p := range pluginEntries {
		if p.Type == pluginType {
			ret = append(ret, p)
		}
	}
	slices.SortFunc(ret, func(a, b PluginEntry) int {
		return strings.Compare(a.Name, b.Name)
	})
	return ret
}

// GetPlugin instantiates the named plugin. It returns nil if no such
// plugin is registered
func GetPlugin(
	pluginType PluginType,
	pluginName string,
	pctx PluginContext,
) Plugin {
	pluginEntriesMu.RLock()
	var newFunc func(PluginContext) Plugin
	for _, p := range pluginEntries {
		if p.Type == pluginType && p.Name == pluginName {
			newFunc = p.NewFromOptionsFunc
			break
		}
	}
	pluginEntriesMu.RUnlock()
	if newFunc == nil {
		return nil
	}
	return newFunc(pctx)
}

func optionFlagName(p PluginEntry, opt PluginOption) string {
	return fmt.Sprintf(
		"%s-%s-%s",
		PluginTypeName(p.Type),
		p.Name,
		opt.Name,
	)
}

func optionEnvVarName(p PluginEntry, opt PluginOption) string {
	ret := fmt.Sprintf(
		"AUCTIONEER_%s_%s_%s",
		PluginTypeName(p.Type),
		p.Name,
		opt.Name,
	)
	return strings.ToUpper(strings.ReplaceAll(ret, "-", "_"))
}

// PopulateCmdlineOptions adds a flag for every registered plugin option,
// bound directly to the option destination
func PopulateCmdlineOptions(fs *pflag.FlagSet) error {
	pluginEntriesMu.RLock()
	defer pluginEntriesMu.RUnlock()
	for _, p := range pluginEntries {
		for _, opt := range p.Options {
			flagName := optionFlagName(p, opt)
			switch opt.Type {
			case PluginOptionTypeString:
				dest, ok := opt.Dest.(*string)
				if !ok {
					return fmt.Errorf("invalid destination type for option %s", flagName)
				}
				def, _ := opt.DefaultValue.(string)
				fs.StringVar(dest, flagName, def, opt.Description)
			case PluginOptionTypeBool:
				dest, ok := opt.Dest.(*bool)
				if !ok {
					return fmt.Errorf("invalid destination type for option %s", flagName)
				}
				def, _ := opt.DefaultValue.(bool)
				fs.BoolVar(dest, flagName, def, opt.Description)
			case PluginOptionTypeInt:
				dest, ok := opt.Dest.(*int)
				if !ok {
					return fmt.Errorf("invalid destination type for option %s", flagName)
				}
				def, _ := opt.DefaultValue.(int)
				fs.IntVar(dest, flagName, def, opt.Description)
			case PluginOptionTypeUint:
				dest, ok := opt.Dest.(*uint64)
				if !ok {
					return fmt.Errorf("invalid destination type for option %s", flagName)
				}
				def, _ := opt.DefaultValue.(uint64)
				fs.Uint64Var(dest, flagName, def, opt.Description)
			default:
				return fmt.Errorf("unknown plugin option type %d for option %s", opt.Type, flagName)
			}
		}
	}
	return nil
}

// ProcessEnvVars applies AUCTIONEER_<TYPE>_<PLUGIN>_<OPTION> environment
// variables to plugin options
func ProcessEnvVars() error {
	pluginEntriesMu.RLock()
	defer pluginEntriesMu.RUnlock()
	for _, p := range pluginEntries {
		for _, opt := range p.Options {
			val, ok := os.LookupEnv(optionEnvVarName(p, opt))
			if !ok {
				continue
			}
			if err := setOptionFromString(opt, val); err != nil {
				return fmt.Errorf(
					"%s plugin %s: %w",
					PluginTypeName(p.Type),
					p.Name,
					err,
				)
			}
		}
	}
	return nil
}

// ProcessConfig applies plugin options from a config file. The map is
// keyed by plugin type name, then plugin name, then option name
func ProcessConfig(pluginConfig map[string]map[string]map[string]any) error {
	for typeName, plugins := range pluginConfig {
		var pluginType PluginType
		switch typeName {
		case PluginTypeName(PluginTypeBlob):
			pluginType = PluginTypeBlob
		case PluginTypeName(PluginTypeMetadata):
			pluginType = PluginTypeMetadata
		default:
			return fmt.Errorf("unknown plugin type: %s", typeName)
		}
		for pluginName, options := range plugins {
			for optName, optVal := range options {
				// Config files carry untyped scalars, so go through the
				// string form for everything but strings
				var err error
				if s, ok := optVal.(string); ok {
					err = SetPluginOptionString(pluginType, pluginName, optName, s)
				} else {
					err = SetPluginOptionString(pluginType, pluginName, optName, fmt.Sprint(optVal))
				}
				if err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// SetPluginOption sets the value of a named option for a plugin entry. This
// must be called before the plugin is instantiated. Unknown options are
// ignored so callers can set options such as data-dir that not every
// plugin implements
func SetPluginOption(
	pluginType PluginType,
	pluginName string,
	optionName string,
	value any,
) error {
	opt, err := findOption(pluginType, pluginName, optionName)
	if err != nil || opt == nil {
		return err
	}
	switch dest := opt.Dest.(type) {
	case *string:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("invalid type for option %s: expected string", optionName)
		}
		*dest = v
	case *bool:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("invalid type for option %s: expected bool", optionName)
		}
		*dest = v
	case *int:
		v, ok := value.(int)
		if !ok {
			return fmt.Errorf("invalid type for option %s: expected int", optionName)
		}
		*dest = v
	case *uint64:
		switch v := value.(type) {
		case uint64:
			*dest = v
		case int:
			if v < 0 {
				return fmt.Errorf("invalid value for option %s: negative int", optionName)
			}
			*dest = uint64(v)
		default:
			return fmt.Errorf("invalid type for option %s: expected uint64 or int", optionName)
		}
	default:
		return fmt.Errorf("invalid destination type for option %s", optionName)
	}
	return nil
}

// SetPluginOptionString parses value according to the option type and sets it
func SetPluginOptionString(
	pluginType PluginType,
	pluginName string,
	optionName string,
	value string,
) error {
	opt, err := findOption(pluginType, pluginName, optionName)
	if err != nil || opt == nil {
		return err
	}
	return setOptionFromString(*opt, value)
}

func setOptionFromString(opt PluginOption, value string) error {
	switch dest := opt.Dest.(type) {
	case *string:
		*dest = value
	case *bool:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid value for option %s: %w", opt.Name, err)
		}
		*dest = v
	case *int:
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for option %s: %w", opt.Name, err)
		}
		*dest = v
	case *uint64:
		v, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid value for option %s: %w", opt.Name, err)
		}
		*dest = v
	default:
		return fmt.Errorf("invalid destination type for option %s", opt.Name)
	}
	return nil
}

func findOption(
	pluginType PluginType,
	pluginName string,
	optionName string,
) (*PluginOption, error) {
	pluginEntriesMu.RLock()
	defer pluginEntriesMu.RUnlock()
	for i := range pluginEntries {
		p := &pluginEntries[i]
		if p.Type != pluginType || p.Name != pluginName {
			continue
		}
		for j := range p.Options {
			if p.Options[j].Name == optionName {
				return &p.Options[j], nil
			}
		}
		return nil, nil
	}
	return nil, fmt.Errorf(
		"plugin %s of type %s not found",
		pluginName,
		PluginTypeName(pluginType),
	)
}
