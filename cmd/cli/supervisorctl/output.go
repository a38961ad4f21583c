package main

import (
	stderrors "errors"
	"fmt"

	"github.com/core-tools/hsu-supervisor/pkg/errors"
	"github.com/core-tools/hsu-supervisor/pkg/supervisor"
)

const resultSuccess = "SUCCESS"

func qualifiedName(group, name string) string {
	if group == "" || group == name {
		return name
	}
	return group + ":" + name
}

func printInfo(info supervisor.ProcessInfo) {
	fmt.Printf("%-32s %-10s %s\n", qualifiedName(info.Group, info.Name), info.StateName, info.Description)
}

func printError(target string, err error) {
	var domainErr *errors.DomainError
	if stderrors.As(err, &domainErr) {
		fmt.Printf("%s: ERROR (%s: %s)\n", target, domainErr.Type, domainErr.Message)
		return
	}
	fmt.Printf("%s: ERROR (%v)\n", target, err)
}

// printResults prints one line per result and reports whether all succeeded.
func printResults(results []supervisor.ProcessResult, success string) bool {
	ok := true
	for _, r := range results {
		name := qualifiedName(r.Group, r.Name)
		if r.Status == resultSuccess {
			fmt.Printf("%s: %s\n", name, success)
			continue
		}
		ok = false
		if r.Description != "" {
			fmt.Printf("%s: ERROR (%s: %s)\n", name, r.Status, r.Description)
		} else {
			fmt.Printf("%s: ERROR (%s)\n", name, r.Status)
		}
	}
	return ok
}

func printCompletion(target, success string, completion supervisor.Completion, noWait bool) bool {
	if !completion.Done() {
		fmt.Printf("%s: requested\n", target)
		return true
	}
	if noWait || len(completion.Results) == 0 {
		fmt.Printf("%s: %s\n", target, success)
		return true
	}
	return printResults(completion.Results, success)
}
