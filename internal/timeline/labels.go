package timeline

// actionLabels maps the backend's action identifiers to display labels.
// The identifiers mirror the GitHub and AWS plugin functions the automation
// agent can invoke.
var actionLabels = map[string]string{
	"github_grant_repo_access":       "Granted repository access",
	"github_revoke_repo_access":      "Revoked repository access",
	"github_create_repo":             "Created GitHub repository",
	"github_commit_file":             "Committed file to repository",
	"github_delete_repo":             "Deleted GitHub repository",
	"aws_s3_create_bucket":           "Created S3 bucket",
	"aws_s3_delete_bucket":           "Deleted S3 bucket",
	"aws_ec2_launch_instance":        "Launched EC2 instance",
	"aws_ec2_terminate_instance":     "Terminated EC2 instance",
	"aws_iam_add_user":               "Created IAM user",
	"aws_iam_remove_user":            "Deleted IAM user",
	"aws_iam_add_user_permission":    "Attached IAM user permission",
	"aws_iam_remove_user_permission": "Detached IAM user permission",
}

// ActionLabel returns the display label for an action identifier. Unknown
// identifiers get a generic label rather than leaking raw ids to the UI.
func ActionLabel(action string) string {
	if label, ok := actionLabels[action]; ok {
		return label
	}
	return "Performed action"
}
