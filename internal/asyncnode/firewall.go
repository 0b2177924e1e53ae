package asyncnode

import (
	"github.com/pulumi/pulumi-aws/sdk/v6/go/aws/ec2"
	"github.com/pulumi/pulumi/sdk/v3/go/pulumi"
)

const (
	PortSSH                = 22
	PortAPI                = 5000
	PortAMQP               = 5672
	PortRabbitMQManagement = 15672
	PortRedis              = 6379
	PortRedisUI            = 8081
)

// AnyIPv4 is the source of every inbound rule and the destination of the
// outbound rule. Peers reach each other over public addresses.
const AnyIPv4 = "0.0.0.0/0"

// IngressPorts is the fixed inbound allow-list, independent of how many
// machines are declared.
var IngressPorts = []int{
	PortSSH,
	PortAPI,
	PortAMQP,
	PortRabbitMQManagement,
	PortRedis,
	PortRedisUI,
}

func ingressRules() ec2.SecurityGroupIngressArray {
	rules := make(ec2.SecurityGroupIngressArray, 0, len(IngressPorts))
	for _, port := range IngressPorts {
		rules = append(rules, ec2.SecurityGroupIngressArgs{
			Protocol:   pulumi.String("tcp"),
			FromPort:   pulumi.Int(port),
			ToPort:     pulumi.Int(port),
			CidrBlocks: pulumi.StringArray{pulumi.String(AnyIPv4)},
		})
	}
	return rules
}

func egressRules() ec2.SecurityGroupEgressArray {
	return ec2.SecurityGroupEgressArray{
		ec2.SecurityGroupEgressArgs{
			Protocol:   pulumi.String("-1"),
			FromPort:   pulumi.Int(0),
			ToPort:     pulumi.Int(0),
			CidrBlocks: pulumi.StringArray{pulumi.String(AnyIPv4)},
		},
	}
}
