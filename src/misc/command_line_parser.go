package misc

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

type OptionType int

const (
	INT OptionType = iota
	STRING
)

type Option struct {
	option_type   OptionType
	name          string
	default_value string
	help_msg      string
	is_set        bool
	value         string
}

type CommandLineParser struct {
	options map[string]*Option
}

func (this *CommandLineParser) Init() {
	this.options = make(map[string]*Option)
}

func (this *CommandLineParser) AddOption(
	option_type OptionType,
	name string,
	default_value string,
	help_msg string,
) {
	if _, found := this.options[name]; found {
		err := fmt.Errorf("option %s is already added", name)
		panic(err)
	}

	this.options[name] = &Option{
		option_type:   option_type,
		name:          name,
		default_value: default_value,
		help_msg:      help_msg,
		value:         default_value,
	}
}

func (this *CommandLineParser) Parse(args []string) {
	i := 1
	for i < len(args) {
		arg := args[i]
		if !strings.HasPrefix(arg, "--") {
			err := fmt.Errorf("argument %s is not an option", arg)
			panic(err)
		}

		name := strings.TrimPrefix(arg, "--")
		value := ""
		has_value := false
		if equal := strings.Index(name, "="); equal >= 0 {
			value = name[equal+1:]
			name = name[:equal]
			has_value = true
			i += 1
		} else if i+1 < len(args) && !strings.HasPrefix(args[i+1], "--") {
			value = args[i+1]
			has_value = true
			i += 2
		} else {
			i += 1
		}

		option, found := this.options[name]
		if !found {
			err := fmt.Errorf("option %s is not supported", name)
			panic(err)
		}

		if !has_value {
			option.is_set = true
			continue
		}

		if option.option_type == INT {
			if _, parse_err := strconv.ParseInt(value, 10, 64); parse_err != nil {
				err := fmt.Errorf("option %s expects an integer, got %s", name, value)
				panic(err)
			}
		}

		option.is_set = true
		option.value = value
	}
}

func (this *CommandLineParser) IsArgSet(name string) bool {
	option, found := this.options[name]
	if !found {
		err := fmt.Errorf("option %s is not supported", name)
		panic(err)
	}

	return option.is_set
}

func (this *CommandLineParser) IntParameter(name string) int64 {
	option, found := this.options[name]
	if !found {
		err := fmt.Errorf("option %s is not supported", name)
		panic(err)
	} else if option.option_type != INT {
		err := fmt.Errorf("option %s is not an int option", name)
		panic(err)
	}

	value, parse_err := strconv.ParseInt(option.value, 10, 64)
	if parse_err != nil {
		panic(parse_err)
	}

	return value
}

func (this *CommandLineParser) StringParameter(name string) string {
	option, found := this.options[name]
	if !found {
		err := fmt.Errorf("option %s is not supported", name)
		panic(err)
	} else if option.option_type != STRING {
		err := fmt.Errorf("option %s is not a string option", name)
		panic(err)
	}

	return option.value
}

func (this *CommandLineParser) StringifyHelpMsgs() string {
	names := make([]string, 0, len(this.options))
	for name := range this.options {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		option := this.options[name]
		lines = append(
			lines,
			fmt.Sprintf("--%s (default: %s): %s", option.name, option.default_value, option.help_msg),
		)
	}

	return strings.Join(lines, "\n")
}
