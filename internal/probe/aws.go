package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/rds"
)

// RDSAPI is the subset of the RDS client used by AWSProbe
type RDSAPI interface {
	DescribeDBInstances(ctx context.Context, in *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
}

// EC2API is the subset of the EC2 client used by AWSProbe
type EC2API interface {
	DescribeInstances(ctx context.Context, in *ec2.DescribeInstancesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeInstancesOutput, error)
}

// AWSClients bundles the AWS service clients shared by every AWS probe
type AWSClients struct {
	RDS RDSAPI
	EC2 EC2API
}

// NewAWSClients loads the default credential chain for the region
func NewAWSClients(ctx context.Context, region string) (*AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}
	return &AWSClients{
		RDS: rds.NewFromConfig(cfg),
		EC2: ec2.NewFromConfig(cfg),
	}, nil
}

// AWSProbe scores a managed resource (an RDS instance or an EC2 instance)
type AWSProbe struct {
	name         string
	service      string
	resourceKind string
	resourceID   string
	clients      *AWSClients
}

// AWSProbeConfig holds construction parameters for AWSProbe
type AWSProbeConfig struct {
	Name         string
	Service      string
	ResourceKind string
	ResourceID   string
	Clients      *AWSClients
}

// NewAWSProbe creates an AWS resource probe
func NewAWSProbe(cfg AWSProbeConfig) *AWSProbe {
	return &AWSProbe{
		name:         cfg.Name,
		service:      cfg.Service,
		resourceKind: cfg.ResourceKind,
		resourceID:   cfg.ResourceID,
		clients:      cfg.Clients,
	}
}

func (p *AWSProbe) Name() string    { return p.name }
func (p *AWSProbe) Type() string    { return "aws" }
func (p *AWSProbe) Service() string { return p.service }

func (p *AWSProbe) Execute(ctx context.Context) (*ProbeResult, error) {
	if p.clients == nil {
		return nil, fmt.Errorf("aws probe %s: no aws clients configured", p.name)
	}
	switch p.resourceKind {
	case "rds":
		return p.checkRDS(ctx)
	case "ec2":
		return p.checkEC2(ctx)
	default:
		return nil, fmt.Errorf("unsupported resource kind: %s", p.resourceKind)
	}
}

func (p *AWSProbe) checkRDS(ctx context.Context) (*ProbeResult, error) {
	if p.clients.RDS == nil {
		return nil, fmt.Errorf("aws probe %s: rds client not configured", p.name)
	}
	out, err := p.clients.RDS.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(p.resourceID),
	})
	if err != nil {
		return nil, fmt.Errorf("describe db instance: %w", err)
	}
	if len(out.DBInstances) == 0 {
		return nil, fmt.Errorf("db instance %s not found", p.resourceID)
	}

	status := aws.ToString(out.DBInstances[0].DBInstanceStatus)
	score := RDSStatusScore(status)
	return &ProbeResult{
		ProbeName: p.name,
		ProbeType: "aws",
		Service:   p.service,
		Passed:    score >= 1,
		Score:     score,
		Detail: map[string]any{
			"resource_kind": "rds",
			"db_instance":   p.resourceID,
			"status":        status,
		},
		ExecutedAt: time.Now().UTC(),
	}, nil
}

func (p *AWSProbe) checkEC2(ctx context.Context) (*ProbeResult, error) {
	if p.clients.EC2 == nil {
		return nil, fmt.Errorf("aws probe %s: ec2 client not configured", p.name)
	}
	out, err := p.clients.EC2.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{p.resourceID},
	})
	if err != nil {
		return nil, fmt.Errorf("describe instance: %w", err)
	}

	var state ec2types.InstanceStateName
	found := false
	for _, r := range out.Reservations {
		for _, inst := range r.Instances {
			if inst.State != nil {
				state = inst.State.Name
				found = true
			}
		}
	}
	if !found {
		return nil, fmt.Errorf("instance %s not found", p.resourceID)
	}

	score := EC2StateScore(state)
	return &ProbeResult{
		ProbeName: p.name,
		ProbeType: "aws",
		Service:   p.service,
		Passed:    score >= 1,
		Score:     score,
		Detail: map[string]any{
			"resource_kind": "ec2",
			"instance_id":   p.resourceID,
			"state":         string(state),
		},
		ExecutedAt: time.Now().UTC(),
	}, nil
}

// RDSStatusScore maps a DB instance status to a score
func RDSStatusScore(status string) float64 {
	switch status {
	case "available":
		return 1.0
	case "backing-up", "maintenance", "modifying", "upgrading", "configuring-enhanced-monitoring", "configuring-log-exports":
		return 0.7
	case "rebooting", "starting", "storage-optimization", "renaming":
		return 0.4
	default:
		return 0
	}
}

// EC2StateScore maps an instance state to a score
func EC2StateScore(state ec2types.InstanceStateName) float64 {
	switch state {
	case ec2types.InstanceStateNameRunning:
		return 1.0
	case ec2types.InstanceStateNamePending:
		return 0.5
	case ec2types.InstanceStateNameStopping:
		return 0.2
	default:
		return 0
	}
}
