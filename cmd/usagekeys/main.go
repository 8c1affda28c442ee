/*
 * Copyright © 2025 Streamplane Inc., All rights reserved.
 */

// Command usagekeys prints the deterministic usage-key API keys for a deploy
// environment so infrastructure provisioning can pre-create the matching
// rate-limit partitions.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/streamplane/controlstore"
	"github.com/streamplane/controlstore/apiaccess"
	"github.com/streamplane/controlstore/config"
)

var (
	versionFlag = flag.Bool("version", false, "Show version information")
	vFlag       = flag.Bool("v", false, "Show version information (short)")

	deployEnvFlag = flag.String("env", string(config.DeployEnvProduction), "Deploy environment (production, staging, test)")
	orgFlag       = flag.String("org", "", "Organization name for organization-scoped keys")
	whitelistFlag = flag.String("whitelist", "", "Comma-separated queue whitelist")
)

func main() {
	flag.Parse()

	if *versionFlag || *vFlag {
		info := controlstore.GetVersionInfo()
		fmt.Printf("controlstore usagekeys version %s\n", info.Version)
		fmt.Printf("Git commit: %s\n", info.GitCommit)
		fmt.Printf("Build date: %s\n", info.BuildDate)
		fmt.Printf("Go version: %s\n", info.GoVersion)
		os.Exit(0)
	}

	deployEnv := config.DeployEnv(*deployEnvFlag)
	var whitelist []string
	if *whitelistFlag != "" {
		whitelist = strings.Split(*whitelistFlag, ",")
	}

	types := []apiaccess.UsageKeyType{
		apiaccess.UsageKeyTypeGlobal,
		apiaccess.UsageKeyTypeOrganization,
		apiaccess.UsageKeyTypeOrganizationOneRPS,
		apiaccess.UsageKeyTypeOrganizationTenRPS,
		apiaccess.UsageKeyTypeOrganizationHundredRPS,
	}
	for _, usageKeyType := range types {
		if usageKeyType.OrganizationScoped() && *orgFlag == "" {
			continue
		}
		key, ok := apiaccess.UsageKeyApiKey(deployEnv, usageKeyType, *orgFlag, whitelist)
		if !ok {
			continue
		}
		fmt.Printf("%-28s %s\n", usageKeyType, key)
	}
}
