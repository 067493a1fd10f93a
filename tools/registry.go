// Copyright 2025 SentryVolt
// SPDX-License-Identifier: Apache-2.0

package tools

import "strings"

// essentialRegistry is the declarative registry shipped with the
// product. Identifiers are dotted "<service>.<operation>"; the suffix
// after the dot also resolves bare function names during evaluation.
var essentialRegistry = map[string]EssentialTool{
	// Cloud account administration
	"aws.iam_create_user":    {ID: "aws.iam_create_user", Label: "AWS IAM: create user", Tier: TierAdmin, DefaultAction: ActionBlock},
	"aws.iam_attach_policy":  {ID: "aws.iam_attach_policy", Label: "AWS IAM: attach policy", Tier: TierAdmin, DefaultAction: ActionBlock},
	"aws.s3_delete_bucket":   {ID: "aws.s3_delete_bucket", Label: "AWS S3: delete bucket", Tier: TierDelete, DefaultAction: ActionBlock},
	"aws.s3_put_object":      {ID: "aws.s3_put_object", Label: "AWS S3: upload object", Tier: TierWrite, DefaultAction: ActionLogOnly},
	"aws.ec2_terminate":      {ID: "aws.ec2_terminate", Label: "AWS EC2: terminate instance", Tier: TierDelete, DefaultAction: ActionBlock},
	"gcp.iam_set_policy":     {ID: "gcp.iam_set_policy", Label: "GCP IAM: set policy", Tier: TierAdmin, DefaultAction: ActionBlock},
	"azure.role_assign":      {ID: "azure.role_assign", Label: "Azure: assign role", Tier: TierAdmin, DefaultAction: ActionBlock},

	// Communication
	"gmail.send_email":       {ID: "gmail.send_email", Label: "Gmail: send email", Tier: TierWrite, DefaultAction: ActionLogOnly},
	"gmail.delete_email":     {ID: "gmail.delete_email", Label: "Gmail: delete email", Tier: TierDelete, DefaultAction: ActionBlock},
	"slack.post_message":     {ID: "slack.post_message", Label: "Slack: post message", Tier: TierWrite, DefaultAction: ActionLogOnly},
	"twilio.send_sms":        {ID: "twilio.send_sms", Label: "Twilio: send SMS", Tier: TierWrite, DefaultAction: ActionLogOnly},

	// Source control
	"github.create_repo":     {ID: "github.create_repo", Label: "GitHub: create repository", Tier: TierWrite, DefaultAction: ActionLogOnly},
	"github.delete_repo":     {ID: "github.delete_repo", Label: "GitHub: delete repository", Tier: TierDelete, DefaultAction: ActionBlock},
	"github.merge_pr":        {ID: "github.merge_pr", Label: "GitHub: merge pull request", Tier: TierWrite, DefaultAction: ActionLogOnly},

	// Payments
	"stripe.create_charge":   {ID: "stripe.create_charge", Label: "Stripe: create charge", Tier: TierAdmin, DefaultAction: ActionBlock},
	"stripe.create_refund":   {ID: "stripe.create_refund", Label: "Stripe: create refund", Tier: TierAdmin, DefaultAction: ActionBlock},

	// Local machine
	"shell.execute":          {ID: "shell.execute", Label: "Shell: execute command", Tier: TierAdmin, DefaultAction: ActionBlock},
	"fs.delete_file":         {ID: "fs.delete_file", Label: "Filesystem: delete file", Tier: TierDelete, DefaultAction: ActionBlock},
	"fs.write_file":          {ID: "fs.write_file", Label: "Filesystem: write file", Tier: TierWrite, DefaultAction: ActionLogOnly},
	"fs.read_file":           {ID: "fs.read_file", Label: "Filesystem: read file", Tier: TierRead, DefaultAction: ActionAllow},

	// Databases
	"db.drop_table":          {ID: "db.drop_table", Label: "Database: drop table", Tier: TierDelete, DefaultAction: ActionBlock},
	"db.execute_query":       {ID: "db.execute_query", Label: "Database: execute query", Tier: TierWrite, DefaultAction: ActionLogOnly},
}

// EssentialTools returns the full registry, for the API surface.
func EssentialTools() []EssentialTool {
	out := make([]EssentialTool, 0, len(essentialRegistry))
	for _, t := range essentialRegistry {
		out = append(out, t)
	}
	return out
}

// lookupEssential resolves a function name against the registry: exact
// id first, then the suffix after the dot (a model emitting
// "send_email" matches "gmail.send_email").
func lookupEssential(functionName string) (EssentialTool, bool) {
	if t, ok := essentialRegistry[functionName]; ok {
		return t, true
	}
	for id, t := range essentialRegistry {
		if idx := strings.LastIndex(id, "."); idx >= 0 && id[idx+1:] == functionName {
			return t, true
		}
	}
	return EssentialTool{}, false
}
