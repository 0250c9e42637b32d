package am

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"

	"github.com/teranos/mise/errors"
)

// backupCount is how many rotated copies SetValue keeps (.back1 newest).
const backupCount = 3

// SetValue writes key = raw into the TOML file at configPath, creating the
// file and its directory when missing. raw is converted to the type of the
// key's default so the file stays loadable. The previous file is kept as
// <path>.back1, rotating older copies up to .back3.
func SetValue(configPath, key, raw string) error {
	value, err := coerce(key, raw)
	if err != nil {
		return err
	}

	config, err := readTOML(configPath)
	if err != nil {
		return err
	}

	parts := strings.Split(key, ".")
	section := config
	for _, part := range parts[:len(parts)-1] {
		next, ok := section[part].(map[string]interface{})
		if !ok {
			next = make(map[string]interface{})
			section[part] = next
		}
		section = next
	}
	section[parts[len(parts)-1]] = value

	if err := os.MkdirAll(filepath.Dir(configPath), DefaultDirPermissions); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(configPath))
	}
	if err := rotateBackups(configPath); err != nil {
		return errors.Wrap(err, "failed to create backup")
	}

	data, err := toml.Marshal(config)
	if err != nil {
		return errors.Wrap(err, "failed to marshal config")
	}
	if err := os.WriteFile(configPath, data, DefaultFilePermissions); err != nil {
		return errors.Wrapf(err, "failed to write %s", configPath)
	}
	return nil
}

// coerce converts raw to the type of key's default value.
func coerce(key, raw string) (interface{}, error) {
	v := viper.New()
	SetDefaults(v)
	if !v.IsSet(key) {
		return nil, errors.WithHint(
			errors.NewInvalidRequestError("unknown config key %q", key),
			"run 'mise am show --sources' to list keys")
	}

	switch def := v.Get(key).(type) {
	case bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, errors.NewInvalidRequestError("%s expects true or false, got %q", key, raw)
		}
		return b, nil
	case int, int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, errors.NewInvalidRequestError("%s expects an integer, got %q", key, raw)
		}
		return n, nil
	case string:
		return raw, nil
	default:
		return nil, errors.Newf("%s has unsupported type %T", key, def)
	}
}

func readTOML(configPath string) (map[string]interface{}, error) {
	config := make(map[string]interface{})
	data, err := os.ReadFile(configPath)
	if os.IsNotExist(err) {
		return config, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", configPath)
	}
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %s", configPath)
	}
	return config, nil
}

func rotateBackups(configPath string) error {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil
	}

	oldest := fmt.Sprintf("%s.back%d", configPath, backupCount)
	if err := os.Remove(oldest); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete %s", oldest)
	}
	for i := backupCount - 1; i >= 1; i-- {
		from := fmt.Sprintf("%s.back%d", configPath, i)
		if _, err := os.Stat(from); err == nil {
			if err := os.Rename(from, fmt.Sprintf("%s.back%d", configPath, i+1)); err != nil {
				return errors.Wrapf(err, "failed to rotate %s", from)
			}
		}
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		return errors.Wrap(err, "failed to read config for backup")
	}
	return os.WriteFile(configPath+".back1", content, DefaultFilePermissions)
}
